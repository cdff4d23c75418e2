package web

import (
	_ "embed"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed dashboard.html
var defaultDashboard []byte

// DashboardHandler serves dir/dashboard.html, falling back to the built-in
// page when dir has none. Responses are never cached so edits show up
// on reload.
func DashboardHandler(dir string) http.HandlerFunc {
	dashboardPath := filepath.Join(dir, "dashboard.html")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if dir != "" {
			if info, err := os.Stat(dashboardPath); err == nil && !info.IsDir() {
				http.ServeFile(w, r, dashboardPath)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(defaultDashboard)
	}
}
