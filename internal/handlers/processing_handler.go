package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/services"
)

type ProcessingHandler struct {
	Processing *services.ProcessingService
}

func NewProcessingHandler(p *services.ProcessingService) *ProcessingHandler {
	return &ProcessingHandler{Processing: p}
}

// Start is the POST /processing/start endpoint. The run continues in the
// background; clients poll Status.
func (h *ProcessingHandler) Start(c *gin.Context) {
	if err := h.Processing.Start(c.Request.Context(), currentUser(c).ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Processing started"})
}

func (h *ProcessingHandler) Stop(c *gin.Context) {
	if err := h.Processing.Stop(c.Request.Context(), currentUser(c).ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Processing stopped"})
}

func (h *ProcessingHandler) Status(c *gin.Context) {
	status, err := h.Processing.Status(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
