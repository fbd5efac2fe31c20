package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adlaunch/backend/internal/auth"
	"github.com/adlaunch/backend/internal/services"
)

type AuthHandler struct {
	services *services.Container
}

func NewAuthHandler(s *services.Container) *AuthHandler {
	return &AuthHandler{services: s}
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	ClientName string `json:"clientName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, auth.ErrInvalidRegistration)
		return
	}

	session, err := h.services.Auth.Register(c.Request.Context(), req.Email, req.Password, req.ClientName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": session.Token})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, auth.ErrMissingCredentials)
		return
	}

	session, err := h.services.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": session.Token})
}
