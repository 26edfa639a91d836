package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/rules"
)

type OrchestratorConfig struct {
	BatchSize        int
	MaxFetchAttempts int
	RetryBackoff     time.Duration
	DefaultLookback  time.Duration
	// Heartbeat is how often an active run touches its row so recovery
	// never mistakes it for an abandoned one.
	Heartbeat time.Duration
}

// AccountSource is what the orchestrator needs from mailbox account storage.
type AccountSource interface {
	FetcherFactory
	SetCredentialStatus(ctx context.Context, accountID, status string) error
}

// UserStartDates resolves a user's configured sync start date.
type UserStartDates interface {
	StartDate(ctx context.Context, userID string) (*time.Time, error)
}

// Orchestrator drives fetch, filter, classify and persist for one account
// at a time. At most one run is active per account.
type Orchestrator struct {
	cfg        OrchestratorConfig
	rules      *rules.Store
	accounts   AccountSource
	users      UserStartDates
	cursors    *CursorStore
	domains    *DomainMemory
	runs       *RunRepository
	store      *ApplicationStore
	classifier *Classifier

	baseCtx  context.Context
	shutdown context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOrchestrator(cfg OrchestratorConfig, rs *rules.Store, accounts AccountSource, users UserStartDates,
	cursors *CursorStore, domains *DomainMemory, runs *RunRepository, store *ApplicationStore, classifier *Classifier) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 30 * 24 * time.Hour
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		rules:      rs,
		accounts:   accounts,
		users:      users,
		cursors:    cursors,
		domains:    domains,
		runs:       runs,
		store:      store,
		classifier: classifier,
		baseCtx:    ctx,
		shutdown:   cancel,
		active:     make(map[string]*activeRun),
	}
}

// Start begins a background run for acct. The run is already persisted as
// processing with zeroed counters when Start returns. A second Start while a
// run is active returns ErrRunInProgress and changes nothing.
func (o *Orchestrator) Start(ctx context.Context, acct *models.MailboxAccount, trigger string) error {
	o.mu.Lock()
	if _, busy := o.active[acct.ID]; busy {
		o.mu.Unlock()
		return ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(o.baseCtx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	o.active[acct.ID] = ar
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.active, acct.ID)
		o.mu.Unlock()
		cancel()
		close(ar.done)
	}

	if _, err := o.runs.Begin(ctx, acct, trigger); err != nil {
		release()
		return err
	}

	log.Printf("[Orchestrator] account %s: run started (trigger=%s)", acct.ID, trigger)
	go func() {
		defer release()
		o.execute(runCtx, acct)
	}()
	return nil
}

// Stop cancels the account's active run. It returns ErrNoActiveRun if none.
func (o *Orchestrator) Stop(accountID string) error {
	o.mu.Lock()
	ar, ok := o.active[accountID]
	o.mu.Unlock()
	if !ok {
		return ErrNoActiveRun
	}
	ar.cancel()
	return nil
}

// StopAndWait cancels the active run, if any, and waits for it to exit.
func (o *Orchestrator) StopAndWait(ctx context.Context, accountID string) error {
	o.mu.Lock()
	ar, ok := o.active[accountID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	ar.cancel()
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the account has no active run.
func (o *Orchestrator) Wait(ctx context.Context, accountID string) error {
	o.mu.Lock()
	ar, ok := o.active[accountID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the account has an active run.
func (o *Orchestrator) Running(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[accountID]
	return ok
}

// Shutdown cancels every run and waits for them to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdown()
	o.mu.Lock()
	pending := make([]*activeRun, 0, len(o.active))
	for _, ar := range o.active {
		pending = append(pending, ar)
	}
	o.mu.Unlock()

	for _, ar := range pending {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, acct *models.MailboxAccount) {
	beatCtx, stopBeat := context.WithCancel(ctx)
	go o.heartbeat(beatCtx, acct.ID)
	err := o.sync(ctx, acct)
	stopBeat()

	// The run's own context may be cancelled; state must still be written.
	finishCtx := context.WithoutCancel(ctx)
	next, code := models.RunComplete, ""
	switch {
	case err == nil:
	case IsCancelled(err) || errors.Is(err, context.Canceled):
		next = models.RunIdle
	default:
		next = models.RunFailed
		se := classifyFetchError(acct.ID, err)
		code = se.RunErrorCode()
		if se.Code == CodeCredential {
			if serr := o.accounts.SetCredentialStatus(finishCtx, acct.ID, models.CredentialRevoked); serr != nil {
				log.Printf("[Orchestrator] account %s: mark credential revoked: %v", acct.ID, serr)
			}
		}
	}

	if err != nil {
		log.Printf("[Orchestrator] account %s: run ended %s: %v", acct.ID, next, err)
	} else {
		log.Printf("[Orchestrator] account %s: run complete", acct.ID)
	}
	if ferr := o.runs.Finish(finishCtx, acct.ID, next, code); ferr != nil {
		log.Printf("[Orchestrator] account %s: finish run: %v", acct.ID, ferr)
	}
}

func (o *Orchestrator) heartbeat(ctx context.Context, accountID string) {
	ticker := time.NewTicker(o.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.runs.Touch(ctx, accountID); err != nil && ctx.Err() == nil {
				log.Printf("[Orchestrator] account %s: heartbeat: %v", accountID, err)
			}
		}
	}
}

func (o *Orchestrator) sync(ctx context.Context, acct *models.MailboxAccount) error {
	boundary, err := o.startBoundary(ctx, acct.UserID)
	if err != nil {
		return &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	cursor, err := o.cursors.Ensure(ctx, acct.ID, boundary)
	if err != nil {
		return &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	verified, err := o.domains.ListVerified(ctx, acct.UserID)
	if err != nil {
		return &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	snap := NewRuleSnapshot(o.rules.Current(), verified)

	fetcher, err := o.accounts.Open(ctx, acct)
	if err != nil {
		return classifyFetchError(acct.ID, err)
	}
	defer fetcher.Close()

	var ids []string
	err = retry(ctx, o.cfg.MaxFetchAttempts, o.cfg.RetryBackoff, func() error {
		var e error
		ids, e = fetcher.ListSince(ctx, cursor.LastProcessedAt)
		return e
	})
	if err != nil {
		return classifyFetchError(acct.ID, err)
	}
	if err := o.runs.SetTotal(ctx, acct.ID, len(ids)); err != nil {
		return &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	log.Printf("[Orchestrator] account %s: %d messages since %s (rules %s, %d verified domains)",
		acct.ID, len(ids), cursor.LastProcessedAt.Format(time.RFC3339), snap.Rules.Version, snap.VerifiedCount())

	// Listing order is not guaranteed to be time order, so every batch skips
	// against the watermark the run started from and the cursor only moves
	// to the newest message committed so far.
	from := cursor.Watermark()
	seen := from
	for start := 0; start < len(ids); start += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return &SyncError{Code: CodeCancelled, AccountID: acct.ID, Err: err}
		}
		end := start + o.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}

		next, err := o.processBatch(ctx, acct, fetcher, ids[start:end], snap, from, seen, cursor.Epoch)
		if err != nil {
			return err
		}
		seen = next
	}
	return nil
}

// processBatch fetches, filters, classifies and commits one batch in fetch
// order, then advances the cursor to the newest watermark seen. Messages at
// or before from are already covered by the cursor. Nothing of a failed or
// cancelled batch is counted.
func (o *Orchestrator) processBatch(ctx context.Context, acct *models.MailboxAccount, fetcher Fetcher, ids []string,
	snap *RuleSnapshot, from, seen models.Watermark, epoch int) (models.Watermark, error) {

	var envs []*Envelope
	err := retry(ctx, o.cfg.MaxFetchAttempts, o.cfg.RetryBackoff, func() error {
		var e error
		envs, e = fetcher.FetchBatch(ctx, ids)
		return e
	})
	if err != nil {
		return seen, classifyFetchError(acct.ID, err)
	}

	var (
		progress = Progress{Processed: len(ids)}
		records  []*models.ApplicationRecord
		verified []*Verdict
		next     = seen
	)
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return seen, &SyncError{Code: CodeCancelled, AccountID: acct.ID, Err: err}
		}
		// Boundary second re-listed, or a retry.
		if !from.Before(env.Watermark()) {
			continue
		}
		if next.Before(env.Watermark()) {
			next = env.Watermark()
		}

		match := ClassifyCandidate(env, snap)
		if !match.IsCandidate {
			progress.Filtered++
			continue
		}

		verdict, err := o.classifier.Classify(ctx, acct.UserID, env, match, snap)
		if err != nil {
			var se *SyncError
			if errors.As(err, &se) {
				se.AccountID = acct.ID
				return seen, se
			}
			return seen, &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
		}
		if verdict.FalsePositive {
			progress.Discarded++
			continue
		}
		records = append(records, verdict.Record)
		if verdict.VerifiedDomain != "" {
			verified = append(verified, verdict)
		}
	}

	inserted, err := o.store.InsertBatch(ctx, records)
	if err != nil {
		return seen, &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	progress.Found = inserted

	// Domains are remembered only once their records are committed, and then
	// even if the run is being cancelled.
	commitCtx := context.WithoutCancel(ctx)
	for _, v := range verified {
		if err := o.domains.UpsertVerified(commitCtx, acct.UserID, v.VerifiedDomain, v.VerifiedCompany); err != nil {
			return seen, &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: fmt.Errorf("remember domain: %w", err)}
		}
	}

	if seen.Before(next) {
		if err := o.cursors.Advance(ctx, acct.ID, epoch, next); err != nil {
			if errors.Is(err, ErrCursorRegression) {
				// The start date changed under us; the new epoch owns the cursor.
				return seen, &SyncError{Code: CodeCancelled, AccountID: acct.ID, Err: err}
			}
			return seen, &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: fmt.Errorf("advance cursor: %w", err)}
		}
	}
	if err := o.runs.AddProgress(ctx, acct.ID, progress); err != nil {
		return next, &SyncError{Code: CodeStorage, AccountID: acct.ID, Err: err}
	}
	return next, nil
}

func (o *Orchestrator) startBoundary(ctx context.Context, userID string) (time.Time, error) {
	if o.users != nil {
		sd, err := o.users.StartDate(ctx, userID)
		if err != nil {
			return time.Time{}, err
		}
		if sd != nil {
			return sd.UTC(), nil
		}
	}
	return time.Now().UTC().Add(-o.cfg.DefaultLookback), nil
}
