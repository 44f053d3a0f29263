package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// handleAdminFiles returns the full catalog view including backup
// state, newest first.
func (s *Server) handleAdminFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	objects, err := s.catalog.ListRecent(ctx, 1000)
	if err != nil {
		Error("admin list failed", nil, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(objects)
}

// handleAdminDeleteFile removes one object: disk copy, remote copy
// (best effort), then the catalog row.
func (s *Server) handleAdminDeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/admin/files/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "File ID required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	obj, err := s.catalog.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		Error("admin delete lookup failed", map[string]any{"id": id}, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := s.store.Delete(obj.StoredName); err != nil {
		Error("admin delete disk failed", map[string]any{"id": id}, err)
		http.Error(w, "Delete failed", http.StatusInternalServerError)
		return
	}

	if obj.BackupID != "" && s.backup.Available() {
		if err := s.backup.Delete(ctx, obj.BackupID); err != nil {
			Warn("admin delete remote failed", map[string]any{"id": id, "backup_id": obj.BackupID, "error": err.Error()})
		}
	}

	if err := s.catalog.Delete(ctx, id); err != nil {
		Error("admin delete row failed", map[string]any{"id": id}, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	s.metrics.RecordDeletions(1)
	Info("admin delete complete", map[string]any{"id": id})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "id": id})
}

// handleAdminDeleteAll empties the catalog: every object's disk copy,
// its remote copy (best effort), then the row. Permanent objects are
// not spared; this is the operator's reset switch.
func (s *Server) handleAdminDeleteAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	var deleted int
	for {
		objects, err := s.catalog.ListRecent(ctx, 500)
		if err != nil {
			Error("admin delete-all list failed", nil, err)
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if len(objects) == 0 {
			break
		}

		progressed := false
		for _, obj := range objects {
			if err := s.store.Delete(obj.StoredName); err != nil {
				Error("admin delete-all disk failed", map[string]any{"id": obj.ID}, err)
				continue
			}
			if obj.BackupID != "" && s.backup.Available() {
				if err := s.backup.Delete(ctx, obj.BackupID); err != nil {
					Warn("admin delete-all remote failed", map[string]any{"id": obj.ID, "backup_id": obj.BackupID, "error": err.Error()})
				}
			}
			if err := s.catalog.Delete(ctx, obj.ID); err != nil {
				Error("admin delete-all row failed", map[string]any{"id": obj.ID}, err)
				continue
			}
			deleted++
			progressed = true
		}
		// A pass that removed nothing will not remove anything on the
		// next pass either; stop instead of spinning.
		if !progressed {
			Error("admin delete-all stalled", map[string]any{"deleted": deleted}, nil)
			http.Error(w, "Delete failed", http.StatusInternalServerError)
			return
		}
	}

	if deleted > 0 {
		s.metrics.RecordDeletions(deleted)
	}
	Info("admin delete-all complete", map[string]any{"deleted": deleted})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"deleted_count": deleted})
}

// handleAdminPurge runs one reclamation pass immediately and reports
// how many objects were removed.
func (s *Server) handleAdminPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	before := s.metrics.Snapshot().DeletedTotal
	if err := s.reclaimer.runOnce(ctx); err != nil {
		Error("admin purge failed", nil, err)
		http.Error(w, "Purge failed", http.StatusInternalServerError)
		return
	}
	deleted := s.metrics.Snapshot().DeletedTotal - before

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"deleted_count": deleted})
}

// handleAdminSummary reports aggregate catalog figures.
func (s *Server) handleAdminSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	count, bytes, err := s.catalog.Totals(ctx)
	if err != nil {
		Error("admin summary failed", nil, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{
		"file_count":  count,
		"total_bytes": bytes,
	})
}
