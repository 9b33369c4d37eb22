package httpx

import (
	"fmt"
	"net/http"
)

// StatusError is an error that has already been classified to a terminal
// HTTP status. The envelope writer uses it as-is without re-classifying.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}
