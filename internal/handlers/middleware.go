package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/services"
)

const (
	userKey      = "user"
	viewAsHeader = "X-View-As"
)

// SessionAuth verifies the session cookie or bearer token and loads the
// caller into the request context.
func SessionAuth(verifier *auth.SessionVerifier, users *services.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		userID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		user, err := users.Get(c.Request.Context(), userID)
		if errors.Is(err, services.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
			return
		}
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}

// viewAs reads the coach view target from the query, then the header.
func viewAs(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query("view_as")); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(viewAsHeader))
}
