package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Metrics holds process-local lifetime counters. Counters reset on
// restart; the /metrics handler floors uploads with the catalog count
// so the figure never under-reports stored files.
type Metrics struct {
	mu sync.RWMutex

	uploadsTotal     int64
	uploadBytesTotal int64
	downloadsTotal   int64
	deletedTotal     int64
	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordUpload records a successful upload
func (m *Metrics) RecordUpload(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
}

// RecordDownload records a successful download
func (m *Metrics) RecordDownload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloadsTotal++
}

// RecordDeletions records files removed by reclamation or admin action
func (m *Metrics) RecordDeletions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedTotal += int64(n)
}

// RecordRequest records an HTTP request and its response class
func (m *Metrics) RecordRequest(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	if statusCode >= 500 {
		m.requestErrors5xx++
	} else if statusCode >= 400 {
		m.requestErrors4xx++
	}
}

// Snapshot returns a point-in-time copy of all counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		UploadsTotal:     m.uploadsTotal,
		UploadBytesTotal: m.uploadBytesTotal,
		DownloadsTotal:   m.downloadsTotal,
		DeletedTotal:     m.deletedTotal,
		RequestsTotal:    m.requestsTotal,
		RequestErrors4xx: m.requestErrors4xx,
		RequestErrors5xx: m.requestErrors5xx,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	UploadsTotal     int64 `json:"uploads_total"`
	UploadBytesTotal int64 `json:"upload_bytes_total"`
	DownloadsTotal   int64 `json:"downloads_total"`
	DeletedTotal     int64 `json:"deleted_total"`
	RequestsTotal    int64 `json:"requests_total"`
	RequestErrors4xx int64 `json:"request_errors_4xx"`
	RequestErrors5xx int64 `json:"request_errors_5xx"`
}

// handleMetrics serves the public JSON counters. Responses are marked
// uncacheable so intermediaries never serve stale figures.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metrics.Snapshot()

	uploads := snap.UploadsTotal
	storageBytes := snap.UploadBytesTotal
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if count, bytes, err := s.catalog.Totals(ctx); err == nil {
		// Counters reset on restart; the catalog is the durable floor.
		if count > uploads {
			uploads = count
		}
		storageBytes = bytes
	} else {
		Warn("metrics totals query failed", map[string]any{"error": err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	json.NewEncoder(w).Encode(map[string]int64{
		"uploads":       uploads,
		"downloads":     snap.DownloadsTotal,
		"deleted":       snap.DeletedTotal,
		"storage_bytes": storageBytes,
	})
}
