// Echo upstream for local testing. Reports the identity headers the
// gateway injected.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"time"
)

func main() {
	var addr, name string
	var status int
	var sleep time.Duration
	flag.StringVar(&addr, "addr", ":9001", "listen address")
	flag.StringVar(&name, "name", "upstream", "service name")
	flag.IntVar(&status, "status", 200, "status code to return")
	flag.DurationVar(&sleep, "sleep", 0, "artificial latency per request")
	flag.Parse()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sleep > 0 {
			time.Sleep(sleep)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service":   name,
			"method":    r.Method,
			"path":      r.URL.Path,
			"query":     r.URL.RawQuery,
			"user_id":   r.Header.Get("X-User-Id"),
			"user_role": r.Header.Get("X-User-Role"),
			"user_plan": r.Header.Get("X-User-Plan"),
		})
	})

	srv := &http.Server{Addr: addr, Handler: h}
	_ = srv.ListenAndServe()
}
