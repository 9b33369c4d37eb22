package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Envelope is the uniform JSON body returned for every error the gateway
// generates itself. Field order is part of the contract.
type Envelope struct {
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
}

// Local server time, second precision, no zone.
const timestampLayout = "2006-01-02T15:04:05"

// WriteError writes the standard error envelope. The error field is the
// status reason phrase; path is always the original request path, never the
// upstream URL.
func WriteError(w http.ResponseWriter, status int, message, path string) {
	env := Envelope{
		Timestamp: time.Now().Format(timestampLayout),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      path,
	}

	body, err := json.Marshal(env)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(fmt.Sprintf(
			`{"timestamp":%q,"status":500,"error":"Internal Server Error","message":"Error serialization failed.","path":%q}`,
			time.Now().Format(timestampLayout), path))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
