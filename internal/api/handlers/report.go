package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adlaunch/backend/internal/services"
)

type ReportHandler struct {
	services *services.Container
}

func NewReportHandler(s *services.Container) *ReportHandler {
	return &ReportHandler{services: s}
}

func (h *ReportHandler) Campaigns(c *gin.Context) {
	rows, err := h.services.Reports.Campaigns(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *ReportHandler) Ads(c *gin.Context) {
	rows, err := h.services.Reports.Ads(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}
