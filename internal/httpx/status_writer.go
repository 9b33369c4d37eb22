package httpx

import "net/http"

// StatusWriter records the status and byte count written to a response.
// Status stays 0 until the response is committed.
type StatusWriter struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

func (w *StatusWriter) WriteHeader(code int) {
	w.Status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(p []byte) (int, error) {
	if w.Status == 0 {
		w.Status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.Bytes += n
	return n, err
}

// Committed reports whether anything has been written to the client yet.
func (w *StatusWriter) Committed() bool { return w.Status != 0 }

// Flush passes through to the underlying writer so response streaming is
// not buffered behind the wrapper.
func (w *StatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
