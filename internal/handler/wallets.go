package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sipengine/internal/repository"
)

type WalletHandler struct {
	Repo repository.Repository
}

func (h *WalletHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/wallets")
	g.GET("/:account", h.get)
	g.POST("/:account/credit", h.credit)
}

type walletResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency,omitempty"`
}

// @Summary Wallet balance
// @Tags wallets
// @Param account path string true "account id"
// @Success 200 {object} apiResponse
// @Router /api/v1/wallets/{account} [get]
func (h *WalletHandler) get(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	w, err := h.Repo.GetWallet(c.Request.Context(), account)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if w == nil {
		Ok(c, walletResponse{AccountID: account, Balance: decimal.Zero}, nil)
		return
	}
	Ok(c, walletResponse{AccountID: w.AccountID, Balance: w.Balance, Currency: w.Currency}, nil)
}

type creditRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
}

// @Summary Credit a wallet; replays of the same idempotency key are no-ops
// @Tags wallets
// @Accept json
// @Param account path string true "account id"
// @Param body body creditRequest true "credit"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/wallets/{account}/credit [post]
func (h *WalletHandler) credit(c *gin.Context) {
	account := strings.TrimSpace(c.Param("account"))
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !req.Amount.IsPositive() {
		Error(c, http.StatusBadRequest, "amount must be positive", nil)
		return
	}
	ctx := c.Request.Context()
	if err := h.Repo.Credit(ctx, account, req.Amount, "credit:"+strings.TrimSpace(req.IdempotencyKey)); err != nil {
		fail(c, err)
		return
	}
	bal, err := h.Repo.GetAvailableBalance(ctx, account)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, walletResponse{AccountID: account, Balance: bal}, nil)
}
