package services

import (
	"net/mail"
	"strings"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
)

// Envelope is the part of a mailbox message the pipeline looks at. It lives
// only for one orchestration pass and is never persisted as-is.
type Envelope struct {
	MessageID  string
	From       string // raw From header
	Subject    string
	Snippet    string
	ReceivedAt time.Time
}

// Sender is a parsed From header.
type Sender struct {
	Name    string
	Address string
	Domain  string
}

// ParseSender splits "Stripe Recruiting <jobs@stripe.com>" into its parts.
// Unparseable headers fall back to the raw text as the address.
func ParseSender(raw string) Sender {
	var s Sender
	if addr, err := mail.ParseAddress(raw); err == nil {
		s.Name = strings.TrimSpace(addr.Name)
		s.Address = strings.ToLower(addr.Address)
	} else {
		s.Address = strings.ToLower(strings.Trim(strings.TrimSpace(raw), "<>\""))
	}
	if at := strings.LastIndex(s.Address, "@"); at >= 0 {
		s.Domain = strings.TrimSuffix(s.Address[at+1:], ".")
	}
	return s
}

// Watermark returns the cursor position that covers this envelope.
func (e *Envelope) Watermark() models.Watermark {
	return models.Watermark{At: e.ReceivedAt, MessageID: e.MessageID}
}
