package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dexbot/internal/exchange"
	"dexbot/internal/models"
	"dexbot/internal/repository"
	"dexbot/internal/watcher"
)

// ChainReader is the slice of the chain client token registration needs.
type ChainReader interface {
	TokenInfo(ctx context.Context, address string) (exchange.TokenInfo, error)
	IsApproved(ctx context.Context, address string) (bool, error)
}

type TokenHandler struct {
	Repo     repository.Repository
	Registry *watcher.Registry
	Chain    ChainReader
}

func (h *TokenHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/tokens")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:address", h.get)
	g.PUT("/:address", h.update)
	g.DELETE("/:address", h.remove)
}

type createTokenRequest struct {
	Address         string  `json:"address" binding:"required"`
	Icon            string  `json:"icon"`
	SlippagePercent string  `json:"slippage_percent"`
	Symbol          *string `json:"symbol"`
}

type tokenView struct {
	models.Token
	CurrentPrice *decimal.Decimal `json:"current_price,omitempty"`
	PriceAt      *time.Time       `json:"price_at,omitempty"`
	ActiveOrders int              `json:"active_orders"`
}

func (h *TokenHandler) view(token models.Token) tokenView {
	out := tokenView{Token: token}
	if tracker, ok := h.Registry.Tracker(token.Address); ok {
		price, at := tracker.LastPrice()
		if !at.IsZero() {
			out.CurrentPrice = &price
			out.PriceAt = &at
		}
		out.ActiveOrders = tracker.ActiveCount()
	}
	return out
}

func (h *TokenHandler) list(c *gin.Context) {
	items, err := h.Repo.ListTokens(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	views := make([]tokenView, 0, len(items))
	for _, item := range items {
		views = append(views, h.view(item))
	}
	Ok(c, views, nil)
}

func (h *TokenHandler) get(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	item, err := h.Repo.GetToken(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "token not found", nil)
		return
	}
	Ok(c, h.view(*item), nil)
}

// create registers a token for tracking: reads symbol and decimals from the
// contract, persists the row, and starts its tracker.
func (h *TokenHandler) create(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	address := strings.TrimSpace(req.Address)
	if !isAddress(address) {
		Error(c, http.StatusBadRequest, "invalid token address", nil)
		return
	}
	existing, err := h.Repo.GetToken(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if existing != nil {
		Error(c, http.StatusConflict, "token already registered", nil)
		return
	}

	slippage := decimal.NewFromInt(1)
	if strings.TrimSpace(req.SlippagePercent) != "" {
		parsed, err := decimal.NewFromString(req.SlippagePercent)
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) || parsed.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			Error(c, http.StatusBadRequest, "slippage_percent must be in (0, 100)", nil)
			return
		}
		slippage = parsed
	}

	info, err := h.Chain.TokenInfo(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, "token contract unreadable: "+err.Error(), nil)
		return
	}
	if req.Symbol != nil && strings.TrimSpace(*req.Symbol) != "" {
		info.Symbol = strings.TrimSpace(*req.Symbol)
	}
	approved, err := h.Chain.IsApproved(c.Request.Context(), address)
	if err != nil {
		approved = false
	}

	item := models.Token{
		Address:                address,
		Symbol:                 info.Symbol,
		Icon:                   strings.TrimSpace(req.Icon),
		Decimals:               info.Decimals,
		DefaultSlippagePercent: slippage,
		Approved:               approved,
	}
	if err := h.Repo.CreateToken(c.Request.Context(), &item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if _, err := h.Registry.Register(item); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, h.view(item), nil)
}

type updateTokenRequest struct {
	Icon            *string `json:"icon"`
	SlippagePercent *string `json:"slippage_percent"`
}

func (h *TokenHandler) update(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	item, err := h.Repo.GetToken(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "token not found", nil)
		return
	}

	var req updateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	updates := map[string]any{}
	if req.Icon != nil {
		updates["icon"] = strings.TrimSpace(*req.Icon)
	}
	if req.SlippagePercent != nil {
		parsed, err := decimal.NewFromString(*req.SlippagePercent)
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) || parsed.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			Error(c, http.StatusBadRequest, "slippage_percent must be in (0, 100)", nil)
			return
		}
		updates["default_slippage_percent"] = parsed.String()
	}
	if len(updates) == 0 {
		Ok(c, h.view(*item), nil)
		return
	}
	if err := h.Repo.UpdateTokenFields(c.Request.Context(), address, updates); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item, err = h.Repo.GetToken(c.Request.Context(), address)
	if err != nil || item == nil {
		Error(c, http.StatusBadGateway, "token reload failed", nil)
		return
	}
	Ok(c, h.view(*item), nil)
}

// remove unregisters and deletes a token. Refused while active orders exist;
// cancel those first.
func (h *TokenHandler) remove(c *gin.Context) {
	address := strings.TrimSpace(c.Param("address"))
	item, err := h.Repo.GetToken(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "token not found", nil)
		return
	}
	if err := h.Registry.Unregister(address); err != nil {
		switch err {
		case watcher.ErrOrdersStillActive:
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		case watcher.ErrTokenNotTracked:
			// Row without a tracker; still delete it.
		default:
			Error(c, http.StatusInternalServerError, err.Error(), nil)
			return
		}
	}
	if err := h.Repo.DeleteToken(c.Request.Context(), address); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"deleted": address}, nil)
}
