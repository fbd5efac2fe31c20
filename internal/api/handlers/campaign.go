package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adlaunch/backend/internal/services"
)

type CampaignHandler struct {
	services *services.Container
}

func NewCampaignHandler(s *services.Container) *CampaignHandler {
	return &CampaignHandler{services: s}
}

// Launch accepts the multipart launch form with the creative under "file".
func (h *CampaignHandler) Launch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.services.Config.MaxUploadBytes())

	var req services.LaunchRequest
	if err := c.ShouldBind(&req); err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Creative file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form"})
		return
	}

	file, err := readCreative(c)
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Creative file too large"})
			return
		}
		respondError(c, err)
		return
	}

	result, err := h.services.Campaign.Launch(c.Request.Context(), getClientID(c), &req, file)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": result})
}

// readCreative returns nil when no file part was sent; the service reports it.
func readCreative(c *gin.Context) (*services.CreativeFile, error) {
	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &services.CreativeFile{Filename: header.Filename, Content: content}, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.services.Campaign.List(c.Request.Context(), getClientID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (h *CampaignHandler) Get(c *gin.Context) {
	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign ID"})
		return
	}

	detail, err := h.services.Campaign.Get(c.Request.Context(), getClientID(c), campaignID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
