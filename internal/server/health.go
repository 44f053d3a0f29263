package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
}

// handleHealth reports the health of the catalog database, the upload
// directory and the remote backup. A degraded system still answers 200
// so load balancers keep routing; only a down database returns 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}

	health.Components["database"] = s.checkDatabaseHealth(r.Context())
	health.Components["storage"] = s.checkStorageHealth()
	health.Components["backup"] = s.checkBackupHealth()

	health.Status = HealthStatusHealthy
	for name, c := range health.Components {
		if c.Status == ComponentStatusDown && name == "database" {
			health.Status = HealthStatusUnhealthy
			break
		}
		if c.Status != ComponentStatusUp {
			health.Status = HealthStatusDegraded
		}
	}

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "database ping failed: " + err.Error(),
		}
	}

	latency := time.Since(start).Milliseconds()
	status := ComponentStatusUp
	message := "database healthy"
	if latency > 1000 {
		status = ComponentStatusDegraded
		message = "database latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
	}
}

func (s *Server) checkStorageHealth() ComponentHealth {
	info, err := os.Stat(s.store.root)
	if err != nil || !info.IsDir() {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "upload directory unavailable",
		}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "storage healthy"}
}

func (s *Server) checkBackupHealth() ComponentHealth {
	if !s.backup.Available() {
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "remote backup disabled"}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "remote backup configured"}
}
