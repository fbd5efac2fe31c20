package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/services"
)

type MetaHandler struct {
	services *services.Container
}

func NewMetaHandler(s *services.Container) *MetaHandler {
	return &MetaHandler{services: s}
}

// Start returns the Facebook login dialog URL for the caller's tenant.
func (h *MetaHandler) Start(c *gin.Context) {
	dialogURL, err := h.services.Meta.StartConnect(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": dialogURL})
}

// Callback always answers with a redirect back to the app.
func (h *MetaHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	if reason := c.Query("error"); reason != "" {
		logger.FromContext(ctx).Warn().
			Str("error", reason).
			Str("description", c.Query("error_description")).
			Msg("Meta login dialog cancelled")
	}

	target, err := h.services.Meta.HandleCallback(ctx, c.Query("code"), c.Query("state"))
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("Meta OAuth callback failed")
	}
	c.Redirect(http.StatusFound, target)
}

func (h *MetaHandler) AdAccounts(c *gin.Context) {
	result, err := h.services.Meta.AdAccounts(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MetaHandler) Pixels(c *gin.Context) {
	pixels, err := h.services.Meta.Pixels(c.Request.Context(), getClientID(c), c.Query("ad_account_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pixels": pixels})
}

func (h *MetaHandler) Pages(c *gin.Context) {
	pages, err := h.services.Meta.Pages(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}
