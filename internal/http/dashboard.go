package http

import (
	_ "embed"
	"net/http"
	"os"

	"go.uber.org/zap"
)

//go:embed ui/index.html
var dashboardHTML []byte

// AddDashboardRoute serves WebDir when configured and the embedded
// dashboard otherwise.
func (s *Server) AddDashboardRoute() {
	if s.webDir != "" {
		if _, err := os.Stat(s.webDir); err != nil {
			s.log.Warn("web directory is not accessible", zap.String("dir", s.webDir), zap.Error(err))
		}
		s.r.Handle("/*", http.FileServer(http.Dir(s.webDir)))
		return
	}

	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(dashboardHTML)
	})
}
