package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/identity/api/transport"
	"github.com/fastygo/identity/internal/infrastructure/monitor"
	"github.com/fastygo/identity/pkg/httpcontext"
)

// StatusSource is satisfied by *monitor.Monitor.
type StatusSource interface {
	GetStatus() monitor.Status
}

type HealthHandler struct {
	baseHandler
	monitor StatusSource
}

func NewHealthHandler(mon StatusSource, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	if status.Healthy() {
		h.respondSuccess(ctx, http.StatusOK, status)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.Failure("DEGRADED", "dependencies unhealthy").WithMeta(status))
}
