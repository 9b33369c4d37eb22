package mw

import (
	"net"
	"net/http"
	"strings"

	"github.com/myinfra/smart-api-gateway/internal/netx"
)

// IPResolver determines the client address used for per-IP rate buckets.
//
// With no trusted proxy ranges configured, the first X-Forwarded-For entry
// is honoured unconditionally. When ranges are configured, forwarded
// headers are only believed for connections arriving from a trusted proxy.
type IPResolver struct {
	Trusted *netx.CIDRSet
}

func (res IPResolver) ClientIP(r *http.Request) string {
	if res.Trusted.Empty() {
		if ip := firstForwarded(r); ip != "" {
			return ip
		}
		return remoteHost(r)
	}

	host := remoteHost(r)
	if peer := net.ParseIP(host); peer != nil && res.Trusted.Contains(peer) {
		if ip := firstForwarded(r); ip != "" {
			return ip
		}
	}
	return host
}

func firstForwarded(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
