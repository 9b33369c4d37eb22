package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Auth types a project can declare.
const (
	AuthTypeToken   = "token"
	AuthTypeSession = "session"
)

type Config struct {
	Server    ServerConfig        `yaml:"server"`
	Gateway   GatewayConfig       `yaml:"gateway"`
	Redis     RedisConfig         `yaml:"redis"`
	RateLimit RateLimitBackend    `yaml:"rate_limit"`
	Upstream  UpstreamConfig      `yaml:"upstream"`
	CORS      CORSConfig          `yaml:"cors"`
	Projects  map[string]*Project `yaml:"projects"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	MaxHeaderBytes           int      `yaml:"max_header_bytes"`
	ReadTimeoutSeconds       int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
}

type GatewayConfig struct {
	GlobalTimeout Duration `yaml:"global_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitBackend struct {
	Backend string `yaml:"backend"` // "redis" | "memory"
}

// UpstreamConfig tunes the shared outbound transport. The TCP connect
// timeout is fixed at 3s and is not configurable.
type UpstreamConfig struct {
	TLSHandshakeTimeoutSeconds   int `yaml:"tls_handshake_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `yaml:"response_header_timeout_seconds"`
	IdleConnTimeoutSeconds       int `yaml:"idle_conn_timeout_seconds"`
	MaxIdleConns                 int `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost          int `yaml:"max_idle_conns_per_host"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Project is one configured upstream service, identified by its path prefix.
// Values are immutable after Load.
type Project struct {
	Prefix            string   `yaml:"prefix"`
	TargetURL         string   `yaml:"target_url"`
	AuthType          string   `yaml:"auth_type"`        // "token" | "session"
	TokenSecret       string   `yaml:"token_secret"`     // base64 HMAC secret (HS256)
	TokenPublicKey    string   `yaml:"token_public_key"` // base64 X.509/SPKI RSA key (RS256)
	TokenCookieName   string   `yaml:"token_cookie_name"`
	SessionCookieName string   `yaml:"session_cookie_name"`
	CSRFRequired      bool     `yaml:"csrf_required"`
	PublicPaths       []string `yaml:"public_paths"`

	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	TimeLimiter    *TimeLimiterConfig    `yaml:"time_limiter"`
}

type RateLimitConfig struct {
	Capacity   int64   `yaml:"capacity"`
	RefillRate float64 `yaml:"refill_rate"` // tokens per second; 0 means no refill
}

type CircuitBreakerConfig struct {
	FailureRateThreshold     float64  `yaml:"failure_rate_threshold"` // percent, 0..100
	WaitDuration             Duration `yaml:"wait_duration"`
	SlidingWindowSize        int      `yaml:"sliding_window_size"`
	PermittedCallsInHalfOpen int      `yaml:"permitted_number_of_calls_in_half_open_state"`
}

type TimeLimiterConfig struct {
	Timeout             Duration `yaml:"timeout"`
	CancelRunningFuture bool     `yaml:"cancel_running_future"`
}

// Duration accepts Go duration strings ("10s", "100ms") in yaml.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20 // 1 MiB
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "127.0.0.1:6379"
	}
	cfg.RateLimit.Backend = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "redis"
	}

	if cfg.Upstream.TLSHandshakeTimeoutSeconds == 0 {
		cfg.Upstream.TLSHandshakeTimeoutSeconds = 5
	}
	if cfg.Upstream.IdleConnTimeoutSeconds == 0 {
		cfg.Upstream.IdleConnTimeoutSeconds = 90
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = 100
	}
	if cfg.Upstream.MaxIdleConnsPerHost == 0 {
		cfg.Upstream.MaxIdleConnsPerHost = 20
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	for _, p := range cfg.Projects {
		if p == nil {
			continue
		}
		p.AuthType = strings.ToLower(strings.TrimSpace(p.AuthType))
		if p.AuthType == "jwt" {
			p.AuthType = AuthTypeToken
		}
		if p.AuthType == AuthTypeSession && p.SessionCookieName == "" {
			p.SessionCookieName = "SESSION"
		}
	}
}

func Validate(cfg *Config) error {
	if len(cfg.Projects) == 0 {
		return errors.New("at least one project is required")
	}

	if cfg.RateLimit.Backend != "redis" && cfg.RateLimit.Backend != "memory" {
		return errors.New("rate_limit.backend must be 'redis' or 'memory'")
	}

	seenPrefixes := map[string]string{}
	for name, p := range cfg.Projects {
		if p == nil {
			return fmt.Errorf("projects.%s is empty", name)
		}
		if err := validateProject(name, p); err != nil {
			return err
		}
		if other, ok := seenPrefixes[p.Prefix]; ok {
			return fmt.Errorf("projects.%s.prefix %q already used by projects.%s", name, p.Prefix, other)
		}
		seenPrefixes[p.Prefix] = name
	}
	return nil
}

func validateProject(name string, p *Project) error {
	idx := "projects." + name

	if p.Prefix == "" || !strings.HasPrefix(p.Prefix, "/") {
		return fmt.Errorf("%s.prefix must start with '/'", idx)
	}
	if p.TargetURL == "" {
		return fmt.Errorf("%s.target_url is required", idx)
	}
	u, err := url.Parse(p.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s.target_url must be an absolute URL", idx)
	}

	switch p.AuthType {
	case AuthTypeToken:
		if p.TokenSecret == "" && p.TokenPublicKey == "" {
			return fmt.Errorf("%s needs token_secret or token_public_key for auth_type token", idx)
		}
		if p.TokenSecret != "" {
			if _, err := base64.StdEncoding.DecodeString(p.TokenSecret); err != nil {
				return fmt.Errorf("%s.token_secret is not valid base64: %w", idx, err)
			}
		}
		if p.TokenPublicKey != "" {
			if _, err := ParseRSAPublicKey(p.TokenPublicKey); err != nil {
				return fmt.Errorf("%s.token_public_key: %w", idx, err)
			}
		}
	case AuthTypeSession:
	default:
		return fmt.Errorf("%s.auth_type must be 'token' or 'session'", idx)
	}

	for _, pat := range p.PublicPaths {
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("%s.public_paths pattern %q is invalid", idx, pat)
		}
	}

	if rl := p.RateLimit; rl != nil {
		if rl.Capacity < 1 {
			return fmt.Errorf("%s.rate_limit.capacity must be >= 1", idx)
		}
		if rl.RefillRate < 0 {
			return fmt.Errorf("%s.rate_limit.refill_rate must be >= 0", idx)
		}
	}

	if cb := p.CircuitBreaker; cb != nil {
		if cb.FailureRateThreshold < 0 || cb.FailureRateThreshold > 100 {
			return fmt.Errorf("%s.circuit_breaker.failure_rate_threshold must be within [0,100]", idx)
		}
		if cb.SlidingWindowSize < 1 {
			return fmt.Errorf("%s.circuit_breaker.sliding_window_size must be >= 1", idx)
		}
		if cb.WaitDuration < 0 {
			return fmt.Errorf("%s.circuit_breaker.wait_duration must be >= 0", idx)
		}
		if cb.PermittedCallsInHalfOpen < 1 {
			return fmt.Errorf("%s.circuit_breaker.permitted_number_of_calls_in_half_open_state must be >= 1", idx)
		}
	}

	if tl := p.TimeLimiter; tl != nil {
		if tl.Timeout <= 0 {
			return fmt.Errorf("%s.time_limiter.timeout must be > 0", idx)
		}
	}
	return nil
}

// ParseRSAPublicKey decodes a base64 X.509 SubjectPublicKeyInfo blob into an
// RSA public key.
func ParseRSAPublicKey(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("not a valid X.509 public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected an RSA public key, got %T", key)
	}
	return pub, nil
}
