package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/myinfra/smart-api-gateway/internal/auth"
	"github.com/myinfra/smart-api-gateway/internal/breaker"
	"github.com/myinfra/smart-api-gateway/internal/config"
	"github.com/myinfra/smart-api-gateway/internal/gateway"
	"github.com/myinfra/smart-api-gateway/internal/logging"
	"github.com/myinfra/smart-api-gateway/internal/mw"
	"github.com/myinfra/smart-api-gateway/internal/netx"
	"github.com/myinfra/smart-api-gateway/internal/proxy"
	"github.com/myinfra/smart-api-gateway/internal/ratelimit"
	"github.com/myinfra/smart-api-gateway/internal/registry"
)

func main() {
	var configPath string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "./config/config.example.yaml", "path to yaml config")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	log := logging.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if validateOnly {
		log.Info("config ok")
		return
	}

	trusted, err := netx.ParseCIDRSet(cfg.Server.TrustedProxies)
	if err != nil {
		log.Error("invalid server.trusted_proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// ---- Redis client, shared by the limiter and session lookups.
	anySession := false
	for _, p := range cfg.Projects {
		if p.AuthType == config.AuthTypeSession {
			anySession = true
		}
	}

	var rdb *redis.Client
	if cfg.RateLimit.Backend == "redis" || anySession {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	// ---- Rate limiter backend
	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unreachable; falling back to memory limiter", slog.String("error", err.Error()))
			limiter = ratelimit.NewMemoryLimiter(5*time.Minute, time.Minute)
		} else {
			limiter = ratelimit.NewRedisLimiter(rdb)
		}
	case "memory":
		limiter = ratelimit.NewMemoryLimiter(5*time.Minute, time.Minute)
	}
	defer limiter.Close()

	// ---- Auth
	authn := &auth.Authenticator{Log: log}
	if rdb != nil {
		authn.Sessions = auth.RedisSessions{RDB: rdb}
	}

	// ---- Upstream transport and forwarder
	transport := proxy.NewTransport(proxy.TransportConfig{
		TLSHandshakeTimeout:   time.Duration(cfg.Upstream.TLSHandshakeTimeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.ResponseHeaderTimeoutSeconds) * time.Second,
		IdleConnTimeout:       time.Duration(cfg.Upstream.IdleConnTimeoutSeconds) * time.Second,
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
	})
	forwarder := proxy.NewForwarder(transport, log)

	reg := registry.New(cfg.Projects)
	breakers := breaker.NewPool()

	gw := &gateway.Gateway{
		Registry: reg,
		Auth:     authn,
		Limiter:  limiter,
		Breakers: breakers,
		Proxy:    forwarder,
		IPs:      mw.IPResolver{Trusted: trusted},
		Log:      log,
	}

	// ---- Mux: metrics, health, admin, catch-all pipeline
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	startedAt := time.Now()
	adminGuard := mw.RequireAdminKey(os.Getenv("APIGW_ADMIN_KEY"))

	mux.Handle("/-/status", adminGuard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		goVer := ""
		if info, ok := debug.ReadBuildInfo(); ok {
			goVer = info.GoVersion
		}
		writeJSON(w, map[string]any{
			"time_utc":            time.Now().UTC().Format(time.RFC3339),
			"uptime_seconds":      int(time.Since(startedAt).Seconds()),
			"listen_addr":         cfg.Server.Addr,
			"go_version":          goVer,
			"rate_limit_backend":  cfg.RateLimit.Backend,
			"projects_configured": reg.Len(),
		})
	})))

	mux.Handle("/-/projects", adminGuard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		type outProject struct {
			Prefix       string `json:"prefix"`
			TargetURL    string `json:"target_url"`
			AuthType     string `json:"auth_type"`
			CSRFRequired bool   `json:"csrf_required"`
			PublicPaths  int    `json:"public_paths"`
			RateLimited  bool   `json:"rate_limited"`
			Breaker      bool   `json:"circuit_breaker"`
		}
		out := make([]outProject, 0, len(cfg.Projects))
		for _, p := range cfg.Projects {
			out = append(out, outProject{
				Prefix:       p.Prefix,
				TargetURL:    p.TargetURL,
				AuthType:     p.AuthType,
				CSRFRequired: p.CSRFRequired,
				PublicPaths:  len(p.PublicPaths),
				RateLimited:  p.RateLimit != nil,
				Breaker:      p.CircuitBreaker != nil,
			})
		}
		writeJSON(w, out)
	})))

	mux.Handle("/-/breakers", adminGuard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, breakers.Snapshot())
	})))

	mux.Handle("/", gw)

	// Cross-cutting middleware, outermost first.
	var handler http.Handler = mux
	handler = mw.GlobalTimeout(cfg.Gateway.GlobalTimeout.Std())(handler)
	handler = mw.Recover(log)(handler)
	handler = mw.CORS(cfg.CORS.AllowedOrigins)(handler)
	handler = mw.Instrument(handler)
	handler = mw.AccessLog(log)(handler)
	handler = mw.WithProject(handler)
	handler = mw.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info("gateway listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("shutdown complete")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
