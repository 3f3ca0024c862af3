package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sipengine/internal/models"
	"sipengine/internal/repository"
	"sipengine/internal/subscription"
)

type SubscriptionHandler struct {
	Repo    repository.Repository
	Machine *subscription.Machine
	Logger  *zap.Logger
}

func (h *SubscriptionHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/subscriptions")
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/pause", h.pause)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/attempts", h.listAttempts)
	g.GET("/:id/investments", h.listInvestments)
}

type createSubscriptionRequest struct {
	OwnerAccountID string          `json:"owner_account_id" binding:"required"`
	BundleID       uint64          `json:"bundle_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	CycleUnit      string          `json:"cycle_unit"`
	TotalCycles    *int            `json:"total_cycles"`
	AutoCompound   bool            `json:"auto_compound"`
	StartAt        *time.Time      `json:"start_at"`
}

// @Summary Create a recurring investment subscription
// @Tags subscriptions
// @Accept json
// @Param body body createSubscriptionRequest true "subscription"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/subscriptions [post]
func (h *SubscriptionHandler) create(c *gin.Context) {
	if h.Machine == nil {
		Error(c, http.StatusInternalServerError, "state machine unavailable", nil)
		return
	}
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	params := subscription.CreateParams{
		OwnerAccountID: strings.TrimSpace(req.OwnerAccountID),
		BundleID:       req.BundleID,
		Amount:         req.Amount,
		CycleUnit:      req.CycleUnit,
		TotalCycles:    req.TotalCycles,
		AutoCompound:   req.AutoCompound,
	}
	if req.StartAt != nil {
		params.StartAt = req.StartAt.UTC()
	}
	sub, err := h.Machine.Create(c.Request.Context(), params)
	if err != nil {
		fail(c, err)
		return
	}
	Created(c, sub)
}

// @Summary Get a subscription
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/subscriptions/{id} [get]
func (h *SubscriptionHandler) get(c *gin.Context) {
	if h.Machine == nil {
		Error(c, http.StatusInternalServerError, "state machine unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sub, err := h.Machine.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, sub, nil)
}

// @Summary Pause a subscription
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/subscriptions/{id}/pause [post]
func (h *SubscriptionHandler) pause(c *gin.Context) {
	h.transition(c, "pause", h.Machine.Pause)
}

// @Summary Resume a paused subscription; the next run is one cycle from now
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/subscriptions/{id}/resume [post]
func (h *SubscriptionHandler) resume(c *gin.Context) {
	h.transition(c, "resume", h.Machine.Resume)
}

// @Summary Cancel a subscription
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/v1/subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) cancel(c *gin.Context) {
	h.transition(c, "cancel", h.Machine.Cancel)
}

func (h *SubscriptionHandler) transition(c *gin.Context, action string, op func(context.Context, uint64) (*models.Subscription, error)) {
	if h.Machine == nil {
		Error(c, http.StatusInternalServerError, "state machine unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	sub, err := op(c.Request.Context(), id)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Info("subscription "+action+" rejected", zap.Uint64("subscription_id", id), zap.Error(err))
		}
		fail(c, err)
		return
	}
	Ok(c, sub, nil)
}

// @Summary List execution attempts of a subscription
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Param status query string false "in_progress|succeeded|failed"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/subscriptions/{id}/attempts [get]
func (h *SubscriptionHandler) listAttempts(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAttemptsParams{
		Limit:          limit,
		Offset:         offset,
		SubscriptionID: &id,
		Status:         strQueryPtr(c, "status"),
		OrderBy:        "started_at",
		Asc:            boolPtr(false),
	}
	items, err := h.Repo.ListAttempts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountAttempts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary List investments produced by a subscription
// @Tags subscriptions
// @Param id path int true "subscription id"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/subscriptions/{id}/investments [get]
func (h *SubscriptionHandler) listInvestments(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListInvestmentsParams{
		Limit:          limit,
		Offset:         offset,
		SubscriptionID: &id,
		AttemptID:      strQueryPtr(c, "attempt_id"),
		OrderBy:        "id",
		Asc:            boolPtr(false),
	}
	items, err := h.Repo.ListInvestments(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountInvestments(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
