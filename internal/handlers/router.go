package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/justsurfingit/jobsync/internal/services"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Jobs       *JobHandler
	Processing *ProcessingHandler
	Settings   *SettingsHandler
	Coach      *CoachHandler
	Mailbox    *MailboxHandler
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NewRouter builds the gin engine. Every route but /health requires a session.
func NewRouter(allowedOrigins []string, verifier *auth.SessionVerifier, users *services.UserService, h Handlers) *gin.Engine {
	r := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", viewAsHeader}
	config.ExposeHeaders = []string{"X-Onboarding-Required", "Content-Disposition"}
	config.MaxAge = 12 * time.Hour
	r.Use(cors.New(config))

	r.GET("/health", HealthCheck)

	api := r.Group("/", SessionAuth(verifier, users))
	{
		// Records
		api.GET("/get-emails", h.Jobs.GetEmails)
		api.POST("/job-applications", h.Jobs.CreateApplication)
		api.PUT("/job-applications/:id", h.Jobs.UpdateApplication)
		api.DELETE("/delete-email/:id", h.Jobs.DeleteEmail)
		api.DELETE("/delete-emails", h.Jobs.DeleteAll)
		api.DELETE("/delete-emails-before-start-date", h.Jobs.DeleteBeforeStartDate)
		api.GET("/process-csv", h.Jobs.ExportCSV)

		// Sync
		api.POST("/processing/start", h.Processing.Start)
		api.POST("/processing/stop", h.Processing.Stop)
		api.GET("/processing/status", h.Processing.Status)

		// Settings
		api.PUT("/settings/start-date", h.Settings.UpdateStartDate)
		api.GET("/users/onboarding-status", h.Settings.OnboardingStatus)
		api.POST("/users/complete-onboarding", h.Settings.CompleteOnboarding)

		api.GET("/coach/clients", h.Coach.Clients)

		api.GET("/mailbox", h.Mailbox.Get)
		api.POST("/mailbox/gmail", h.Mailbox.ConnectGmail)
		api.POST("/mailbox/imap", h.Mailbox.ConnectIMAP)
	}
	return r
}
