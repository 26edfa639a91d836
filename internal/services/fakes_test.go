package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/rules"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testBase = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

// fakeFetcher serves a fixed mailbox. listGate blocks ListSince until it is
// closed; blockOn makes FetchBatch wait for cancellation when asked for that id.
type fakeFetcher struct {
	mu       sync.Mutex
	messages []*Envelope

	listGate chan struct{}
	listErr  error
	fetchErr map[string]error
	blockOn  string
	blocked  chan struct{}

	listCalls  int
	fetchCalls int
}

func newFakeFetcher(msgs ...*Envelope) *fakeFetcher {
	sorted := append([]*Envelope(nil), msgs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Watermark().Before(sorted[j].Watermark()) })
	return &fakeFetcher{messages: sorted, fetchErr: map[string]error{}}
}

func (f *fakeFetcher) ListSince(ctx context.Context, since time.Time) ([]string, error) {
	f.mu.Lock()
	f.listCalls++
	gate, lerr := f.listGate, f.listErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if lerr != nil {
		return nil, lerr
	}

	var ids []string
	for _, m := range f.messages {
		if !m.ReceivedAt.Before(since) {
			ids = append(ids, m.MessageID)
		}
	}
	return ids, nil
}

func (f *fakeFetcher) FetchBatch(ctx context.Context, ids []string) ([]*Envelope, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()

	var out []*Envelope
	for _, id := range ids {
		if id == f.blockOn {
			if f.blocked != nil {
				f.blocked <- struct{}{}
			}
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if err := f.fetchErr[id]; err != nil {
			return nil, err
		}
		for _, m := range f.messages {
			if m.MessageID == id {
				cp := *m
				out = append(out, &cp)
			}
		}
	}
	return out, nil
}

func (f *fakeFetcher) Close() error { return nil }

// fakeAccounts hands out one fetcher for every account.
type fakeAccounts struct {
	mu       sync.Mutex
	fetcher  Fetcher
	statuses map[string]string
}

func (a *fakeAccounts) Open(ctx context.Context, acct *models.MailboxAccount) (Fetcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetcher, nil
}

func (a *fakeAccounts) SetCredentialStatus(ctx context.Context, accountID, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statuses == nil {
		a.statuses = map[string]string{}
	}
	a.statuses[accountID] = status
	return nil
}

func (a *fakeAccounts) setFetcher(f Fetcher) {
	a.mu.Lock()
	a.fetcher = f
	a.mu.Unlock()
}

func (a *fakeAccounts) status(accountID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statuses[accountID]
}

// fakeExtractor answers every fallback call with the same result.
type fakeExtractor struct {
	result *Extraction
	err    error
	calls  int
}

func (e *fakeExtractor) ExtractApplication(ctx context.Context, env *Envelope) (*Extraction, error) {
	e.calls++
	return e.result, e.err
}

type pipeline struct {
	db       *gorm.DB
	accounts *fakeAccounts
	users    *UserService
	cursors  *CursorStore
	domains  *DomainMemory
	runs     *RunRepository
	store    *ApplicationStore
	orch     *Orchestrator
}

func newPipeline(t *testing.T, db *gorm.DB, f Fetcher, batchSize int) *pipeline {
	t.Helper()
	p := &pipeline{
		db:       db,
		accounts: &fakeAccounts{fetcher: f},
		users:    NewUserService(db),
		cursors:  NewCursorStore(db),
		domains:  NewDomainMemory(db),
		runs:     NewRunRepository(db),
		store:    NewApplicationStore(db, 25),
	}
	p.orch = NewOrchestrator(OrchestratorConfig{
		BatchSize:        batchSize,
		MaxFetchAttempts: 2,
		RetryBackoff:     time.Millisecond,
	}, rules.NewStore(rules.Default()), p.accounts, p.users, p.cursors, p.domains, p.runs, p.store, NewClassifier(nil))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.orch.Shutdown(ctx)
	})
	return p
}

func seedUser(t *testing.T, db *gorm.DB, id string, mutate func(*models.User)) *models.User {
	t.Helper()
	start := testBase.Add(-24 * time.Hour)
	done := testBase.Add(-48 * time.Hour)
	u := &models.User{
		ID:                    id,
		Email:                 id + "@example.com",
		Role:                  models.RoleJobseeker,
		StartDate:             &start,
		SyncTier:              models.SyncTierNone,
		OnboardingCompletedAt: &done,
	}
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedAccount(t *testing.T, db *gorm.DB, id, userID string) *models.MailboxAccount {
	t.Helper()
	acct := &models.MailboxAccount{
		ID:               id,
		UserID:           userID,
		Provider:         models.ProviderGmail,
		Address:          userID + "@gmail.com",
		Scopes:           "openid https://www.googleapis.com/auth/gmail.readonly",
		CredentialStatus: models.CredentialValid,
	}
	require.NoError(t, db.Create(acct).Error)
	return acct
}

func waitRun(t *testing.T, o *Orchestrator, accountID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, accountID))
}

func msg(id string, offset time.Duration, from, subject, snippet string) *Envelope {
	return &Envelope{
		MessageID:  id,
		From:       from,
		Subject:    subject,
		Snippet:    snippet,
		ReceivedAt: testBase.Add(offset),
	}
}
