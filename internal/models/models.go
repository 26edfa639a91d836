package models

import (
	"strings"
	"time"
)

const (
	RoleJobseeker = "jobseeker"
	RoleCoach     = "coach"

	SyncTierNone    = "none"
	SyncTierPremium = "premium"
)

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email     string     `gorm:"uniqueIndex;not null" json:"user_email"`
	Role      string     `gorm:"default:'jobseeker'" json:"role"`
	StartDate *time.Time `json:"start_date"`
	SyncTier  string     `gorm:"default:'none'" json:"sync_tier"`

	// Nil until the user finishes onboarding; the dashboard API is gated on it.
	OnboardingCompletedAt *time.Time `json:"onboarding_completed_at,omitempty"`
}

func (u *User) IsCoach() bool { return u.Role == RoleCoach }

func (u *User) OnboardingComplete() bool { return u.OnboardingCompletedAt != nil }

// CoachClientLink is active while EndDate is nil.
type CoachClientLink struct {
	CoachID   string     `gorm:"primaryKey;size:64" json:"coach_id"`
	ClientID  string     `gorm:"primaryKey;size:64" json:"client_id"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"

	CredentialValid   = "valid"
	CredentialRevoked = "revoked"
	CredentialExpired = "expired"
)

// MailboxAccount is a connected mailbox. EncryptedCredential holds the sealed
// OAuth token (gmail) or password (imap); it never leaves the server.
type MailboxAccount struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID   string `gorm:"index;not null;size:64" json:"user_id"`
	Provider string `gorm:"not null;default:'gmail'" json:"provider"`
	Address  string `gorm:"not null" json:"address"`
	IMAPHost string `json:"imap_host,omitempty"`

	EncryptedCredential string `gorm:"type:text" json:"-"`
	Scopes              string `gorm:"type:text" json:"scopes"` // space separated
	CredentialStatus    string `gorm:"not null;default:'valid'" json:"credential_status"`
}

func (a *MailboxAccount) HasScope(scope string) bool {
	for _, s := range strings.Fields(a.Scopes) {
		if s == scope {
			return true
		}
	}
	return false
}

// SyncCursor is the per-account ingestion watermark. Within an epoch
// LastProcessedAt never moves backwards; a start-date change opens a new epoch.
type SyncCursor struct {
	AccountID              string    `gorm:"primaryKey;size:64" json:"account_id"`
	LastProcessedAt        time.Time `json:"last_processed_at"`
	LastProcessedMessageID string    `json:"last_processed_message_id"`
	StartBoundary          time.Time `json:"start_boundary"`
	Epoch                  int       `gorm:"not null;default:0" json:"epoch"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Watermark identifies the newest message a committed batch covered.
type Watermark struct {
	At        time.Time
	MessageID string
}

// Before orders watermarks by time, then message id.
func (w Watermark) Before(o Watermark) bool {
	if !w.At.Equal(o.At) {
		return w.At.Before(o.At)
	}
	return w.MessageID < o.MessageID
}

func (c *SyncCursor) Watermark() Watermark {
	return Watermark{At: c.LastProcessedAt, MessageID: c.LastProcessedMessageID}
}

// VerifiedDomain is scoped to its owner; FirstSeenAt is written once.
type VerifiedDomain struct {
	UserID      string    `gorm:"primaryKey;size:64" json:"user_id"`
	Domain      string    `gorm:"primaryKey;size:255" json:"domain"`
	CompanyName string    `json:"company_name,omitempty"`
	FirstSeenAt time.Time `gorm:"not null" json:"first_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ApplicationRecord is the unit the dashboard lists. (UserID, SourceMessageID)
// is unique so a re-fetched message can never produce a second row.
type ApplicationRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID          string `gorm:"not null;size:64;uniqueIndex:idx_owner_source;index:idx_owner_received" json:"user_id"`
	SourceMessageID string `gorm:"not null;size:255;uniqueIndex:idx_owner_source" json:"source_message_id"`

	CompanyName        string            `gorm:"size:255" json:"company_name"`
	JobTitle           string            `gorm:"size:255" json:"job_title"`
	NormalizedJobTitle string            `gorm:"size:255" json:"normalized_job_title"`
	ApplicationStatus  ApplicationStatus `gorm:"size:50;not null" json:"application_status"`
	ReceivedAt         time.Time         `gorm:"index:idx_owner_received" json:"received_at"`
	Subject            string            `gorm:"size:1000" json:"subject"`
	EmailFrom          string            `gorm:"size:255" json:"email_from"`
}

const (
	TriggerManual    = "manual"
	TriggerAuto      = "auto"
	TriggerStartDate = "start_date"
)

// ProcessingRun is the persisted state of the latest orchestration pass for an account.
type ProcessingRun struct {
	AccountID string    `gorm:"primaryKey;size:64" json:"account_id"`
	UserID    string    `gorm:"index;not null;size:64" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status  RunStatus `gorm:"size:20;not null;default:'idle'" json:"status"`
	Trigger string    `gorm:"size:20" json:"trigger"`

	TotalMessages     int `json:"total_messages"`
	ProcessedMessages int `json:"processed_messages"`
	ApplicationsFound int `json:"applications_found"`
	FilteredMessages  int `json:"filtered_messages"`
	DiscardedMessages int `json:"discarded_messages"`

	ErrorCode       string     `json:"error_code,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// All returns every table the service owns, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&CoachClientLink{},
		&MailboxAccount{},
		&SyncCursor{},
		&VerifiedDomain{},
		&ApplicationRecord{},
		&ProcessingRun{},
	}
}
