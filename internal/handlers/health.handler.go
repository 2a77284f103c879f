package handlers

import (
	"context"

	"github.com/nimasrn/sms-forwarder/internal/services"
	xhttp "github.com/nimasrn/sms-forwarder/pkg/http"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
)

type HealthService interface {
	Get(ctx context.Context) (*services.Health, error)
}

type HealthHandler struct {
	svc HealthService
	log logger.Logger
}

func RegisterHealthRoutes(r *xhttp.Router, h *HealthHandler) {
	r.GET("/health", h.GetHealth)
}

func NewHealthHandler(healthService HealthService, l logger.Logger) *HealthHandler {
	return &HealthHandler{
		svc: healthService,
		log: l,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	health, err := h.svc.Get(ctx)
	if err != nil {
		h.log.Warn("health check degraded", "error", err)
		writeJSON(ctx, xhttp.StatusServiceUnavailable, health)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, health)
}
