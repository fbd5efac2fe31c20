package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adlaunch/backend/internal/auth"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/services"
	"github.com/adlaunch/backend/internal/services/platforms"
)

func getClientID(c *gin.Context) uuid.UUID {
	clientID, _ := auth.GetClientID(c)
	return clientID
}

// respondError maps service errors onto the API's status codes and bodies.
func respondError(c *gin.Context, err error) {
	var (
		verr   *services.ValidationError
		lerr   *services.LaunchError
		graphE *platforms.GraphError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.Is(err, services.ErrMetaNotConnected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meta not connected"})
	case errors.Is(err, auth.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "email + password(min 8) required"})
	case errors.Is(err, auth.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at most 72 bytes"})
	case errors.Is(err, auth.ErrEmailExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, auth.ErrMissingCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing email/password"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, services.ErrCampaignNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	case errors.As(err, &lerr):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Launch failed", "details": lerr.Details})
	case errors.As(err, &graphE):
		logger.FromContext(c.Request.Context()).Warn().Err(err).Str("path", graphE.Path).Msg("Graph API call failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Meta API error", "details": graphE.Details()})
	default:
		logger.FromContext(c.Request.Context()).Error().Err(err).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
