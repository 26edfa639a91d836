package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/models"
)

// Start-date presets accepted by ChangeStartDate.
const (
	PresetOneWeek     = "1_week"
	PresetOneMonth    = "1_month"
	PresetThreeMonths = "3_months"
	PresetCustom      = "custom"
)

// ProcessingService is the user-facing surface of the sync pipeline: start,
// stop, status and start-date changes for the caller's primary mailbox.
type ProcessingService struct {
	Mailboxes    *MailboxService
	Users        *UserService
	Runs         *RunRepository
	Cursors      *CursorStore
	Orchestrator *Orchestrator
	Staleness    time.Duration

	now func() time.Time
}

func NewProcessingService(mb *MailboxService, users *UserService, runs *RunRepository, cursors *CursorStore, o *Orchestrator, staleness time.Duration) *ProcessingService {
	return &ProcessingService{
		Mailboxes:    mb,
		Users:        users,
		Runs:         runs,
		Cursors:      cursors,
		Orchestrator: o,
		Staleness:    staleness,
		now:          time.Now,
	}
}

// Start begins a manual run on the user's primary mailbox.
func (s *ProcessingService) Start(ctx context.Context, userID string) error {
	acct, err := s.Mailboxes.PrimaryAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Mailboxes.CheckReadable(acct); err != nil {
		return err
	}
	return s.Orchestrator.Start(ctx, acct, models.TriggerManual)
}

func (s *ProcessingService) Stop(ctx context.Context, userID string) error {
	acct, err := s.Mailboxes.PrimaryAccount(ctx, userID)
	if err != nil {
		return err
	}
	return s.Orchestrator.Stop(acct.ID)
}

// Status reports the run of the user's primary mailbox. A user without a
// mailbox is idle.
func (s *ProcessingService) Status(ctx context.Context, userID string) (*dtos.ProcessingStatusResponse, error) {
	acct, err := s.Mailboxes.PrimaryAccount(ctx, userID)
	if errors.Is(err, ErrNoMailbox) {
		return &dtos.ProcessingStatusResponse{Status: string(models.RunIdle)}, nil
	}
	if err != nil {
		return nil, err
	}

	run, err := s.Runs.Observe(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	resp := &dtos.ProcessingStatusResponse{
		Status:            string(run.Status),
		TotalEmails:       run.TotalMessages,
		ProcessedEmails:   run.ProcessedMessages,
		ApplicationsFound: run.ApplicationsFound,
		FilteredEmails:    run.FilteredMessages,
		DiscardedEmails:   run.DiscardedMessages,
		LastScanAt:        run.LastCompletedAt,
		ErrorCode:         run.ErrorCode,
	}
	resp.ShouldRescan = run.Status != models.RunProcessing &&
		s.Mailboxes.CheckReadable(acct) == nil &&
		(run.LastCompletedAt == nil || s.now().Sub(*run.LastCompletedAt) > s.Staleness)
	return resp, nil
}

// ResolveStartDate turns a preset into a UTC start boundary.
func ResolveStartDate(preset, custom string, now time.Time) (time.Time, error) {
	now = now.UTC()
	switch preset {
	case PresetOneWeek:
		return now.AddDate(0, 0, -7), nil
	case PresetOneMonth:
		return now.AddDate(0, -1, 0), nil
	case PresetThreeMonths:
		return now.AddDate(0, -3, 0), nil
	case PresetCustom:
		t, err := time.Parse("2006-01-02", custom)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: custom_date must be YYYY-MM-DD", ErrInvalidInput)
		}
		if t.After(now) {
			return time.Time{}, fmt.Errorf("%w: custom_date is in the future", ErrInvalidInput)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidInput, preset)
	}
}

// ChangeStartDate stores the new start date and, when the user has a
// readable mailbox, stops any active run, opens a new cursor epoch at the
// new boundary and starts a full rescan.
func (s *ProcessingService) ChangeStartDate(ctx context.Context, userID string, req *dtos.StartDateRequest) (*dtos.StartDateResponse, error) {
	start, err := ResolveStartDate(req.Preset, req.CustomDate, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.Users.SetStartDate(ctx, userID, start); err != nil {
		return nil, err
	}
	resp := &dtos.StartDateResponse{StartDate: start}

	acct, err := s.Mailboxes.PrimaryAccount(ctx, userID)
	if errors.Is(err, ErrNoMailbox) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.Orchestrator.StopAndWait(ctx, acct.ID); err != nil {
		return nil, err
	}
	if _, err := s.Cursors.Reset(ctx, acct.ID, start); err != nil {
		return nil, err
	}
	if err := s.Mailboxes.CheckReadable(acct); err != nil {
		log.Printf("[Orchestrator] account %s: start date changed, rescan skipped: %v", acct.ID, err)
		return resp, nil
	}
	if err := s.Orchestrator.Start(ctx, acct, models.TriggerStartDate); err != nil {
		return nil, err
	}
	resp.RescanStarted = true
	return resp, nil
}
