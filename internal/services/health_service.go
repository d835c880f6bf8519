package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// Pinger is the connectivity probe a health check runs against a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the wire shape of a health check.
type HealthStatus struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthService reports process liveness and dependency readiness.
type HealthService struct {
	store     Pinger
	version   string
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates the health service.
func NewHealthService(store Pinger, version string, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		store:     store,
		version:   version,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck verifies the license store is reachable. Status degrades to
// "unhealthy" when the database ping fails.
func (s *HealthService) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.store.Ping(checkCtx); err != nil {
		s.logger.ErrorContext(ctx, "license store health check failed",
			slog.String("error", err.Error()),
		)
		status.Status = "unhealthy"
		status.Checks["license_store"] = "unreachable"
	} else {
		status.Checks["license_store"] = "ok"
	}
	return status
}

// LivenessCheck reports the process is up without touching dependencies.
func (s *HealthService) LivenessCheck(ctx context.Context) *HealthStatus {
	return &HealthStatus{
		Status:    "alive",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

// Version reports build information.
func (s *HealthService) Version() map[string]string {
	return map[string]string{
		"version":    s.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
