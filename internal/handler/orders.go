package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dexbot/internal/models"
	"dexbot/internal/repository"
	"dexbot/internal/watcher"
)

type OrderHandler struct {
	Repo     repository.Repository
	Registry *watcher.Registry
}

func (h *OrderHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/orders")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.cancel)
	g.POST("/evaluate", h.evaluate)
}

type createOrderRequest struct {
	TokenAddress        string  `json:"token_address" binding:"required"`
	Direction           string  `json:"direction" binding:"required"`
	Comparison          string  `json:"comparison" binding:"required"`
	LimitPrice          *string `json:"limit_price"`
	TrailingStopPercent *int    `json:"trailing_stop_percent"`
	Amount              string  `json:"amount" binding:"required"`
	SlippagePercent     *string `json:"slippage_percent"`
	GasPrice            *string `json:"gas_price"`
}

type orderView struct {
	models.Order
	Active    bool             `json:"active"`
	Watermark *decimal.Decimal `json:"watermark_price,omitempty"`
}

// create validates the order, persists it, and attaches it to its token's
// tracker. The tracker evaluates it immediately, so a market order can fire
// before this call even returns.
func (h *OrderHandler) create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	address := strings.TrimSpace(req.TokenAddress)
	token, err := h.Repo.GetToken(c.Request.Context(), address)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if token == nil {
		Error(c, http.StatusNotFound, "token not registered", nil)
		return
	}

	dir, err := watcher.ParseDirection(req.Direction)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	cmp, err := watcher.ParseComparison(req.Comparison)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := watcher.ValidateCombination(dir, cmp, req.TrailingStopPercent); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsInteger() || amount.LessThanOrEqual(decimal.Zero) {
		Error(c, http.StatusBadRequest, "amount must be a positive integer in smallest units", nil)
		return
	}

	var limitPrice *decimal.Decimal
	if req.LimitPrice != nil && strings.TrimSpace(*req.LimitPrice) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(*req.LimitPrice))
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) {
			Error(c, http.StatusBadRequest, "limit_price must be a positive number", nil)
			return
		}
		limitPrice = &parsed
	}

	slippage := token.DefaultSlippagePercent
	if req.SlippagePercent != nil && strings.TrimSpace(*req.SlippagePercent) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(*req.SlippagePercent))
		if err != nil || parsed.LessThanOrEqual(decimal.Zero) || parsed.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			Error(c, http.StatusBadRequest, "slippage_percent must be in (0, 100)", nil)
			return
		}
		slippage = parsed
	}

	record := models.Order{
		TokenAddress:        token.Address,
		Direction:           string(dir),
		Comparison:          string(cmp),
		LimitPrice:          limitPrice,
		TrailingStopPercent: req.TrailingStopPercent,
		Amount:              amount,
		SlippagePercent:     slippage,
		GasPrice:            req.GasPrice,
	}
	if err := h.Repo.CreateOrder(c.Request.Context(), &record); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	order, err := h.Registry.AttachOrder(record)
	if err != nil {
		// Keep storage consistent with the runtime set.
		_ = h.Repo.DeleteOrder(c.Request.Context(), record.ID)
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, orderView{Order: record, Active: order.Active(), Watermark: order.Watermark()}, nil)
}

func (h *OrderHandler) list(c *gin.Context) {
	ctx := c.Request.Context()
	var items []models.Order
	var err error
	if address := strings.TrimSpace(c.Query("token")); address != "" {
		items, err = h.Repo.ListOrdersByToken(ctx, address)
	} else {
		items, err = h.Repo.ListOrders(ctx)
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	views := make([]orderView, 0, len(items))
	for _, item := range items {
		view := orderView{Order: item}
		if order, _, err := h.Registry.FindOrder(item.ID); err == nil {
			view.Active = order.Active()
			view.Watermark = order.Watermark()
		}
		views = append(views, view)
	}
	Ok(c, views, nil)
}

func (h *OrderHandler) get(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	record, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if record == nil {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	view := orderView{Order: *record}
	if order, _, err := h.Registry.FindOrder(id); err == nil {
		view.Active = order.Active()
		view.Watermark = order.Watermark()
	}
	Ok(c, view, nil)
}

func (h *OrderHandler) cancel(c *gin.Context) {
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if err := h.Registry.RemoveOrder(c.Request.Context(), id); err != nil {
		switch err {
		case watcher.ErrOrderNotFound:
			Error(c, http.StatusNotFound, err.Error(), nil)
		default:
			Error(c, http.StatusConflict, err.Error(), nil)
		}
		return
	}
	Ok(c, gin.H{"cancelled": id}, nil)
}

// evaluate forces an immediate poll, for one token or all of them.
func (h *OrderHandler) evaluate(c *gin.Context) {
	address := strings.TrimSpace(c.Query("token"))
	if err := h.Registry.EvaluateNow(address); err != nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"evaluating": true}, nil)
}
