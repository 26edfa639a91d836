package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/justsurfingit/jobsync/internal/services"
)

// respondError is the only place a service error becomes an HTTP status.
func respondError(c *gin.Context, err error) {
	var se *services.SyncError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOnboardingRequired):
		c.Header("X-Onboarding-Required", "true")
		c.JSON(http.StatusForbidden, gin.H{"error": "Onboarding not completed"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.As(err, &se) && (se.Code == services.CodeScopeMissing || se.Code == services.CodeCredential):
		c.JSON(http.StatusForbidden, gin.H{"detail": "gmail_scope_missing"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrNoMailbox):
		c.JSON(http.StatusNotFound, gin.H{"error": "No mailbox connected"})
	case errors.Is(err, services.ErrNoActiveRun):
		c.JSON(http.StatusNotFound, gin.H{"error": "No processing run is active"})
	case errors.Is(err, services.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Processing already in progress"})
	case errors.Is(err, services.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many export requests, try again later"})
	default:
		ref := uuid.NewString()
		log.Printf("[API] %s %s failed (ref=%s): %v", c.Request.Method, c.FullPath(), ref, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "reference": ref})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
}
