package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dexbot/internal/repository"
	"dexbot/internal/watcher"
)

type PortfolioHandler struct {
	Repo     repository.Repository
	Registry *watcher.Registry
}

func (h *PortfolioHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/portfolio")
	g.GET("", h.summary)
	g.GET("/history", h.history)
}

func (h *PortfolioHandler) summary(c *gin.Context) {
	summary, err := h.Registry.PortfolioSummary(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, summary, nil)
}

func (h *PortfolioHandler) history(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListPortfolioSnapshotsParams{
		Limit:  limit,
		Offset: offset,
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
	}
	items, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
