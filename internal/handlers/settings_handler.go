package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/services"
)

// SettingsHandler covers the per-user sync settings and onboarding state.
type SettingsHandler struct {
	Processing *services.ProcessingService
	Users      *services.UserService
}

func NewSettingsHandler(p *services.ProcessingService, users *services.UserService) *SettingsHandler {
	return &SettingsHandler{Processing: p, Users: users}
}

// UpdateStartDate is the PUT /settings/start-date endpoint
func (h *SettingsHandler) UpdateStartDate(c *gin.Context) {
	var req dtos.StartDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.Processing.ChangeStartDate(c.Request.Context(), currentUser(c).ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SettingsHandler) OnboardingStatus(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, dtos.OnboardingStatusResponse{
		HasCompletedOnboarding: user.OnboardingComplete(),
		SyncTier:               user.SyncTier,
		StartDate:              user.StartDate,
	})
}

func (h *SettingsHandler) CompleteOnboarding(c *gin.Context) {
	if err := h.Users.CompleteOnboarding(c.Request.Context(), currentUser(c).ID, time.Now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Onboarding completed"})
}
