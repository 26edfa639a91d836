package dtos

import "time"

// ProcessingStatusResponse is the body of GET /processing/status.
type ProcessingStatusResponse struct {
	Status            string     `json:"status"`
	TotalEmails       int        `json:"total_emails"`
	ProcessedEmails   int        `json:"processed_emails"`
	ApplicationsFound int        `json:"applications_found"`
	FilteredEmails    int        `json:"filtered_emails"`
	DiscardedEmails   int        `json:"discarded_emails"`
	LastScanAt        *time.Time `json:"last_scan_at"`
	ShouldRescan      bool       `json:"should_rescan"`
	ErrorCode         string     `json:"error_code,omitempty"`
}

// StartDateRequest is the body of PUT /settings/start-date. Preset is one of
// 1_week, 1_month, 3_months or custom; custom requires CustomDate (YYYY-MM-DD).
type StartDateRequest struct {
	Preset     string `json:"preset" binding:"required"`
	CustomDate string `json:"custom_date"`
}

type StartDateResponse struct {
	StartDate     time.Time `json:"start_date"`
	RescanStarted bool      `json:"rescan_started"`
}

// ConnectGmailRequest carries the OAuth authorization code from the consent redirect.
type ConnectGmailRequest struct {
	Code string `json:"code" binding:"required"`
}

// ConnectIMAPRequest registers a non-Gmail mailbox.
type ConnectIMAPRequest struct {
	Host     string `json:"host" binding:"required"`
	Address  string `json:"address" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ClientResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"user_email"`
	StartDate time.Time `json:"start_date"`
}

type OnboardingStatusResponse struct {
	HasCompletedOnboarding bool       `json:"has_completed_onboarding"`
	SyncTier               string     `json:"sync_tier"`
	StartDate              *time.Time `json:"start_date"`
}
