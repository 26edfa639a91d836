package services

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("export rate limit exceeded")

var exportHeader = []string{
	"id", "company_name", "job_title", "normalized_job_title",
	"application_status", "received_at", "subject", "email_from",
}

// Exporter writes a user's records as CSV, at most perMinute times a minute
// per user.
type Exporter struct {
	Store *ApplicationStore

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewExporter(store *ApplicationStore, perMinute int) *Exporter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Exporter{
		Store:    store,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (e *Exporter) limiter(userID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[userID]
	if !ok {
		l = rate.NewLimiter(e.limit, e.burst)
		e.limiters[userID] = l
	}
	return l
}

// Allow consumes one export token for userID.
func (e *Exporter) Allow(userID string) error {
	if !e.limiter(userID).Allow() {
		return ErrRateLimited
	}
	return nil
}

// WriteCSV writes every listable record of ownerID to w.
func (e *Exporter) WriteCSV(ctx context.Context, ownerID string, w io.Writer) error {
	recs, err := e.Store.ListAll(ctx, ownerID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.ID,
			r.CompanyName,
			r.JobTitle,
			r.NormalizedJobTitle,
			string(r.ApplicationStatus),
			r.ReceivedAt.UTC().Format(time.RFC3339),
			r.Subject,
			r.EmailFrom,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
