package handlers

import (
	"context"
	"time"

	xhttp "github.com/nimasrn/transaction-guard/pkg/http"
)

type HealthService interface {
	Check(ctx context.Context) map[string]error
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(r *xhttp.Router, h *HealthHandler) {
	r.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{
		svc: svc,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	failed := h.svc.Check(c)
	if len(failed) == 0 {
		writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	errs := make(map[string]string, len(failed))
	for name, err := range failed {
		errs[name] = err.Error()
	}
	writeJSON(ctx, xhttp.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "errors": errs})
}
