package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HeightSource reports the current ledger height.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}

// HealthHandler serves liveness and the ledger height.
type HealthHandler struct {
	heights   HeightSource
	checks    map[string]HealthCheck
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are probed on every health
// request.
func NewHealthHandler(heights HeightSource, checks map[string]HealthCheck, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		heights:   heights,
		checks:    checks,
		mode:      mode,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HealthCheck reports process and dependency status. Any failing dependency
// turns the response into a 503.
// GET /v1/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   deps,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, okResponse{OK: body})
}

// Height returns the current ledger height.
// GET /v1/height
func (h *HealthHandler) Height(w http.ResponseWriter, r *http.Request) {
	height, err := h.heights.Height(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, height)
}
