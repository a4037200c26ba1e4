package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dexbot/internal/repository"
)

type TradeHandler struct {
	Repo repository.Repository
}

func (h *TradeHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/trades", h.list)
}

func (h *TradeHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTradesParams{
		Limit:        limit,
		Offset:       offset,
		TokenAddress: strQueryPtr(c, "token"),
		Status:       strQueryPtr(c, "status"),
		Since:        timeQueryPtr(c, "since"),
	}
	items, err := h.Repo.ListTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTrades(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
