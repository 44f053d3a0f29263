package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// listEntry is one row of the public listing.
type listEntry struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// handleList returns recent uploads, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	objects, err := s.catalog.ListRecent(ctx, 100)
	if err != nil {
		Error("list query failed", nil, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	entries := make([]listEntry, 0, len(objects))
	for _, obj := range objects {
		entries = append(entries, listEntry{
			ID:        obj.ID,
			URL:       "/" + url.PathEscape(obj.StoredName),
			Name:      obj.OriginalName,
			Size:      obj.SizeBytes,
			CreatedAt: obj.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
