package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// handleRoot serves stored objects by slug. "/" answers with a small
// service banner; everything else is treated as an object name. Every
// miss, whether the slug is unknown, malformed or points outside the
// upload directory, is the same opaque 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"service": "slugbin",
			"status":  "ok",
		})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	localPath, err := s.store.Resolve(name)
	if err != nil {
		if !errors.Is(err, errNotFound) {
			Warn("download resolve failed", map[string]any{"name": name, "error": err.Error()})
		}
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", s.cfg.CacheMaxAge))
	http.ServeFile(w, r, localPath)

	if r.Method == http.MethodGet {
		s.metrics.RecordDownload()
	}
}
