package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sipengine/internal/scheduler"
)

type SchedulerHandler struct {
	Coordinator *scheduler.Coordinator
	Logger      *zap.Logger
}

func (h *SchedulerHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/scheduler/tick", h.tick)
}

// @Summary Run one scheduler tick now
// @Description Safe to call at any time: periods already executed are skipped.
// @Tags scheduler
// @Success 200 {object} apiResponse
// @Router /api/v1/scheduler/tick [post]
func (h *SchedulerHandler) tick(c *gin.Context) {
	if h.Coordinator == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	report, err := h.Coordinator.Tick(c.Request.Context())
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("manual tick failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, map[string]any{"total": report.Total()})
}
