package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myinfra/smart-api-gateway/internal/breaker"
	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"status error passes through", &httpx.StatusError{Status: 502, Message: "x"}, 502},
		{"wrapped status error", fmt.Errorf("proxy: %w", &httpx.StatusError{Status: 503, Message: "x"}), 503},
		{"breaker open", breaker.ErrOpen, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"wrapped deadline", fmt.Errorf("proxy: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"conn refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, http.StatusBadGateway},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "nope.invalid"}, http.StatusBadGateway},
		{"bad token", jwt.ErrTokenMalformed, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got, _ := Classify(tc.err); got != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestClassifyMessages(t *testing.T) {
	if _, msg := Classify(breaker.ErrOpen); msg != "Service is temporarily unavailable. Circuit breaker is open." {
		t.Fatalf("breaker message = %q", msg)
	}
	if _, msg := Classify(context.DeadlineExceeded); msg != "The upstream service did not respond in time. Please retry." {
		t.Fatalf("deadline message = %q", msg)
	}
	if _, msg := Classify(&net.DNSError{Err: "x"}); msg != "Could not connect to the upstream service." {
		t.Fatalf("connect message = %q", msg)
	}
}
