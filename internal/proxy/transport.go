package proxy

import (
	"net"
	"net/http"
	"time"
)

// Upstream TCP connects are capped at 3s regardless of per-project
// time limits; wall-clock limits come from the project's time_limiter.
const dialTimeout = 3 * time.Second

type TransportConfig struct {
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration // 0 disables the cap
	IdleConnTimeout       time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
}

// NewTransport builds the single outbound transport shared by all projects.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
