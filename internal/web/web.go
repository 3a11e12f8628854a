// Package web serves the dashboard page. The page is a plain API
// consumer: it fetches /api/stations, /api/readings and /api/average
// client-side and keeps no server-side state.
package web

import (
	_ "embed"
	"log/slog"
	"net/http"
)

//go:embed index.html
var indexHTML []byte

func handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexHTML); err != nil {
		slog.Error("write dashboard page", "error", err)
	}
}

func Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /", handleIndex)
}
