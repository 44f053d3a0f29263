// prometheus.go - Prometheus text-format metrics exporter
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

var serverStartTime = time.Now()

// handlePrometheusMetrics exports the same counters as /metrics in the
// Prometheus text exposition format.
func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metrics.Snapshot()

	var output strings.Builder

	output.WriteString("# HELP slugbin_info Application version info\n")
	output.WriteString("# TYPE slugbin_info gauge\n")
	output.WriteString("slugbin_info{version=\"dev\"} 1\n\n")

	output.WriteString("# HELP slugbin_requests_total Total number of HTTP requests\n")
	output.WriteString("# TYPE slugbin_requests_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_requests_total %d\n\n", snap.RequestsTotal))

	output.WriteString("# HELP slugbin_uploads_total Total number of file uploads\n")
	output.WriteString("# TYPE slugbin_uploads_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_uploads_total %d\n\n", snap.UploadsTotal))

	output.WriteString("# HELP slugbin_upload_bytes_total Total bytes uploaded\n")
	output.WriteString("# TYPE slugbin_upload_bytes_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_upload_bytes_total %d\n\n", snap.UploadBytesTotal))

	output.WriteString("# HELP slugbin_downloads_total Total number of file downloads\n")
	output.WriteString("# TYPE slugbin_downloads_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_downloads_total %d\n\n", snap.DownloadsTotal))

	output.WriteString("# HELP slugbin_deleted_total Files removed by expiry or admin action\n")
	output.WriteString("# TYPE slugbin_deleted_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_deleted_total %d\n\n", snap.DeletedTotal))

	output.WriteString("# HELP slugbin_request_errors_total HTTP error responses by class\n")
	output.WriteString("# TYPE slugbin_request_errors_total counter\n")
	output.WriteString(fmt.Sprintf("slugbin_request_errors_total{class=\"4xx\"} %d\n", snap.RequestErrors4xx))
	output.WriteString(fmt.Sprintf("slugbin_request_errors_total{class=\"5xx\"} %d\n\n", snap.RequestErrors5xx))

	output.WriteString("# HELP slugbin_uptime_seconds Application uptime in seconds\n")
	output.WriteString("# TYPE slugbin_uptime_seconds counter\n")
	output.WriteString(fmt.Sprintf("slugbin_uptime_seconds %.0f\n\n", time.Since(serverStartTime).Seconds()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(output.String()))
}
