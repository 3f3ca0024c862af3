package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sipengine/internal/models"
	"sipengine/internal/repository"
)

// CatalogHandler administers SPVs, deals and bundle compositions.
type CatalogHandler struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (h *CatalogHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.POST("/spvs", h.createSPV)
	g.POST("/deals", h.createDeal)
	g.GET("/deals/:id", h.getDeal)
	g.POST("/bundles", h.createBundle)
	g.GET("/bundles/:id", h.getBundle)
	g.GET("/bundles/:id/composition", h.getComposition)
	g.PUT("/bundles/:id/composition", h.putComposition)
}

type createSPVRequest struct {
	Name string `json:"name" binding:"required"`
}

// @Summary Create an SPV
// @Tags catalog
// @Accept json
// @Param body body createSPVRequest true "spv"
// @Success 201 {object} apiResponse
// @Router /api/v1/spvs [post]
func (h *CatalogHandler) createSPV(c *gin.Context) {
	var req createSPVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.SPV{Name: strings.TrimSpace(req.Name)}
	if err := h.Repo.CreateSPV(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Created(c, item)
}

type createDealRequest struct {
	Name      string           `json:"name" binding:"required"`
	SPVID     uint64           `json:"spv_id" binding:"required"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	MinTicket decimal.Decimal  `json:"min_ticket"`
	MinorUnit *decimal.Decimal `json:"minor_unit"`
}

// @Summary Create a deal
// @Tags catalog
// @Accept json
// @Param body body createDealRequest true "deal"
// @Success 201 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/deals [post]
func (h *CatalogHandler) createDeal(c *gin.Context) {
	var req createDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !req.UnitPrice.IsPositive() || req.MinTicket.IsNegative() {
		Error(c, http.StatusBadRequest, "unit_price must be positive and min_ticket non-negative", nil)
		return
	}
	spv, err := h.Repo.GetSPV(c.Request.Context(), req.SPVID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if spv == nil {
		Error(c, http.StatusNotFound, "spv not found", nil)
		return
	}
	minor := decimal.New(1, -2)
	if req.MinorUnit != nil && req.MinorUnit.IsPositive() {
		minor = *req.MinorUnit
	}
	item := &models.Deal{
		Name:          strings.TrimSpace(req.Name),
		SPVID:         req.SPVID,
		Status:        "open",
		UnitPrice:     req.UnitPrice,
		MinTicket:     req.MinTicket,
		MinorUnit:     minor,
		RaisedAmount:  decimal.Zero,
		InvestorCount: 0,
	}
	if err := h.Repo.CreateDeal(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Created(c, item)
}

// @Summary Get a deal with its aggregates
// @Tags catalog
// @Param id path int true "deal id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/deals/{id} [get]
func (h *CatalogHandler) getDeal(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	item, err := h.Repo.GetDeal(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "deal not found", nil)
		return
	}
	Ok(c, item, nil)
}

type createBundleRequest struct {
	Name string `json:"name" binding:"required"`
}

// @Summary Create an empty bundle
// @Tags catalog
// @Accept json
// @Param body body createBundleRequest true "bundle"
// @Success 201 {object} apiResponse
// @Router /api/v1/bundles [post]
func (h *CatalogHandler) createBundle(c *gin.Context) {
	var req createBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.Bundle{Name: strings.TrimSpace(req.Name), Active: true}
	if err := h.Repo.CreateBundle(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Created(c, item)
}

// @Summary Get a bundle
// @Tags catalog
// @Param id path int true "bundle id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/bundles/{id} [get]
func (h *CatalogHandler) getBundle(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	item, err := h.Repo.GetBundle(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "bundle not found", nil)
		return
	}
	Ok(c, item, nil)
}

type compositionMember struct {
	DealID        uint64          `json:"deal_id"`
	AllocationPct decimal.Decimal `json:"allocation_pct"`
	IsCore        bool            `json:"is_core"`
	Position      int             `json:"position"`
	MinTicket     decimal.Decimal `json:"min_ticket"`
}

type compositionResponse struct {
	BundleID uint64              `json:"bundle_id"`
	TotalPct decimal.Decimal     `json:"total_pct"`
	Members  []compositionMember `json:"members"`
}

// @Summary Current bundle composition with each deal's minimum ticket
// @Tags catalog
// @Param id path int true "bundle id"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/bundles/{id}/composition [get]
func (h *CatalogHandler) getComposition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	bundle, err := h.Repo.GetBundle(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if bundle == nil {
		Error(c, http.StatusNotFound, "bundle not found", nil)
		return
	}
	members, err := h.Repo.GetBundleComposition(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	resp := compositionResponse{BundleID: id, TotalPct: decimal.Zero, Members: make([]compositionMember, 0, len(members))}
	for _, m := range members {
		minTicket, err := h.Repo.GetDealMinTicket(ctx, m.DealID)
		if err != nil {
			fail(c, err)
			return
		}
		resp.TotalPct = resp.TotalPct.Add(m.AllocationPct)
		resp.Members = append(resp.Members, compositionMember{
			DealID:        m.DealID,
			AllocationPct: m.AllocationPct,
			IsCore:        m.IsCore,
			Position:      m.Position,
			MinTicket:     minTicket,
		})
	}
	Ok(c, resp, nil)
}

type putCompositionRequest struct {
	Members []struct {
		DealID        uint64          `json:"deal_id"`
		AllocationPct decimal.Decimal `json:"allocation_pct"`
		IsCore        bool            `json:"is_core"`
	} `json:"members" binding:"required"`
}

// @Summary Replace a bundle composition; percentages must sum to 100
// @Tags catalog
// @Accept json
// @Param id path int true "bundle id"
// @Param body body putCompositionRequest true "members"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/bundles/{id}/composition [put]
func (h *CatalogHandler) putComposition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req putCompositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	ctx := c.Request.Context()
	bundle, err := h.Repo.GetBundle(ctx, id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if bundle == nil {
		Error(c, http.StatusNotFound, "bundle not found", nil)
		return
	}

	rows := make([]models.BundleDeal, 0, len(req.Members))
	for i, m := range req.Members {
		rows = append(rows, models.BundleDeal{
			DealID:        m.DealID,
			Position:      i + 1,
			AllocationPct: m.AllocationPct,
			IsCore:        m.IsCore,
			Active:        true,
		})
	}
	if err := h.Repo.ReplaceBundleComposition(ctx, id, rows); err != nil {
		fail(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("bundle composition replaced", zap.Uint64("bundle_id", id), zap.Int("members", len(rows)))
	}
	Ok(c, gin.H{"bundle_id": id, "members": len(rows)}, nil)
}
