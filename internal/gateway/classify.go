package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/golang-jwt/jwt/v5"

	"github.com/myinfra/smart-api-gateway/internal/breaker"
	"github.com/myinfra/smart-api-gateway/internal/httpx"
)

// Classify maps an error from the forwarding path to the status and client
// message of the response envelope. Already-classified errors pass through.
func Classify(err error) (int, string) {
	var se *httpx.StatusError
	if errors.As(err, &se) {
		return se.Status, se.Message
	}

	if errors.Is(err, breaker.ErrOpen) {
		return http.StatusServiceUnavailable, "Service is temporarily unavailable. Circuit breaker is open."
	}

	if isTimeout(err) {
		return http.StatusGatewayTimeout, "The upstream service did not respond in time. Please retry."
	}

	if isConnectError(err) {
		return http.StatusBadGateway, "Could not connect to the upstream service."
	}

	if isTokenError(err) {
		return http.StatusUnauthorized, "Invalid or malformed authentication token."
	}

	return http.StatusInternalServerError, "An unexpected error occurred."
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

func isTokenError(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenUnverifiable) ||
		errors.Is(err, jwt.ErrSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet)
}
