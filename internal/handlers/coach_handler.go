package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/services"
)

type CoachHandler struct {
	Users *services.UserService
}

func NewCoachHandler(users *services.UserService) *CoachHandler {
	return &CoachHandler{Users: users}
}

// Clients is the GET /coach/clients endpoint
func (h *CoachHandler) Clients(c *gin.Context) {
	clients, err := h.Users.ListClients(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, clients)
}
