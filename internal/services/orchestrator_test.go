package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justsurfingit/jobsync/internal/database/dbtest"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acmeConfirmation(id string, offset time.Duration) *Envelope {
	return msg(id, offset, "Acme Recruiting <jobs@acme.com>", "Your application to Acme Corp", "Thanks, we will review it shortly.")
}

func newsletter(id string, offset time.Duration) *Envelope {
	return msg(id, offset, "Medium Daily Digest <noreply@medium.com>", "Top stories for you", "Read the latest stories this week.")
}

func TestOrchestrator_ClassifiesAndFiltersAFullRun(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour), newsletter("m2", 2*time.Hour))
	p := newPipeline(t, db, f, 50)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, run.Status)
	assert.Equal(t, 2, run.TotalMessages)
	assert.Equal(t, 2, run.ProcessedMessages)
	assert.Equal(t, 1, run.ApplicationsFound)
	assert.Equal(t, 1, run.FilteredMessages)
	assert.Equal(t, 0, run.DiscardedMessages)
	assert.NotNil(t, run.LastCompletedAt)

	recs, err := p.store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].SourceMessageID)
	assert.Equal(t, models.StatusApplicationConfirmation, recs[0].ApplicationStatus)
	assert.Equal(t, "Acme Corp", recs[0].CompanyName)
	assert.Equal(t, "jobs@acme.com", recs[0].EmailFrom)

	verified, err := p.domains.IsVerified(ctx, "u1", "acme.com")
	require.NoError(t, err)
	assert.True(t, verified)
	newsletterDomain, err := p.domains.IsVerified(ctx, "u1", "medium.com")
	require.NoError(t, err)
	assert.False(t, newsletterDomain)

	cur, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, cur.LastProcessedAt.Equal(testBase.Add(2*time.Hour)))
	assert.Equal(t, "m2", cur.LastProcessedMessageID)
}

func TestOrchestrator_VerifiedDomainWithoutKeywordDefaultsToInformationRequest(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(msg("m1", time.Hour, "Hank <hank@globex.com>", "Quick update", "Let's talk tomorrow."))
	p := newPipeline(t, db, f, 50)
	require.NoError(t, p.domains.UpsertVerified(ctx, "u1", "globex.com", "Globex"))

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	recs, err := p.store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, models.StatusInformationRequest, recs[0].ApplicationStatus)
	assert.Equal(t, "Globex", recs[0].CompanyName)
}

func TestOrchestrator_RerunIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	u := seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour), newsletter("m2", 2*time.Hour))
	p := newPipeline(t, db, f, 1)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)
	first, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)

	// Incremental rerun: only the boundary message is re-listed, and skipped.
	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)
	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, run.Status)
	assert.Equal(t, 0, run.ApplicationsFound)
	second, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, second.Watermark().Before(first.Watermark()))

	// Full rescan over the same range.
	_, err = p.cursors.Reset(ctx, acct.ID, *u.StartDate)
	require.NoError(t, err)
	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerStartDate))
	waitRun(t, p.orch, acct.ID)

	run, err = p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, run.Status)
	assert.Equal(t, 2, run.ProcessedMessages)
	assert.Equal(t, 0, run.ApplicationsFound)

	var count int64
	require.NoError(t, db.Model(&models.ApplicationRecord{}).Where("user_id = ?", "u1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

// shuffledFetcher lists ids in a fixed order that need not match receive time.
type shuffledFetcher struct {
	*fakeFetcher
	order []string
}

func (f *shuffledFetcher) ListSince(ctx context.Context, since time.Time) ([]string, error) {
	byID := map[string]*Envelope{}
	for _, m := range f.messages {
		byID[m.MessageID] = m
	}
	var ids []string
	for _, id := range f.order {
		if m, ok := byID[id]; ok && !m.ReceivedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestOrchestrator_ListOrderIsNotTimeOrder(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := &shuffledFetcher{
		fakeFetcher: newFakeFetcher(acmeConfirmation("m-late", 3*time.Hour), acmeConfirmation("m-early", time.Hour)),
		order:       []string{"m-late", "m-early"},
	}
	p := newPipeline(t, db, f, 1)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, run.Status)
	assert.Equal(t, 2, run.ProcessedMessages)
	assert.Equal(t, 2, run.ApplicationsFound)

	recs, err := p.store.ListAll(ctx, "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.SourceMessageID)
	}
	assert.ElementsMatch(t, []string{"m-late", "m-early"}, ids)

	cur, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "m-late", cur.LastProcessedMessageID)
	assert.True(t, cur.LastProcessedAt.Equal(testBase.Add(3*time.Hour)))
}

func TestOrchestrator_FailedInsertRemembersNoDomain(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	p := newPipeline(t, db, newFakeFetcher(acmeConfirmation("m1", time.Hour)), 50)
	require.NoError(t, db.Migrator().DropTable(&models.ApplicationRecord{}))

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, "storage_error", run.ErrorCode)

	verified, err := p.domains.IsVerified(ctx, "u1", "acme.com")
	require.NoError(t, err)
	assert.False(t, verified)

	cur, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, cur.LastProcessedMessageID)
}

func TestOrchestrator_SecondStartIsRejected(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour))
	f.listGate = make(chan struct{})
	p := newPipeline(t, db, f, 50)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	assert.ErrorIs(t, p.orch.Start(ctx, acct, models.TriggerAuto), ErrRunInProgress)
	assert.True(t, p.orch.Running(acct.ID))

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunProcessing, run.Status)
	assert.Equal(t, models.TriggerManual, run.Trigger)
	assert.Zero(t, run.ProcessedMessages)

	close(f.listGate)
	waitRun(t, p.orch, acct.ID)

	run, err = p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunComplete, run.Status)
	assert.Equal(t, 1, run.ApplicationsFound)
	assert.Equal(t, 1, run.ProcessedMessages)
}

func TestOrchestrator_ConcurrentStartsAdmitOneRun(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour))
	f.listGate = make(chan struct{})
	p := newPipeline(t, db, f, 50)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.orch.Start(ctx, acct, models.TriggerManual)
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, ErrRunInProgress)
	}
	assert.Equal(t, 1, started)

	close(f.listGate)
	waitRun(t, p.orch, acct.ID)
}

func TestOrchestrator_StopKeepsCommittedBatches(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(
		acmeConfirmation("m1", time.Hour),
		msg("m2", 2*time.Hour, "jobs@initech.com", "Interview invitation", "Pick a slot."),
	)
	f.blockOn = "m2"
	f.blocked = make(chan struct{})
	p := newPipeline(t, db, f, 1)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	select {
	case <-f.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("second batch never fetched")
	}
	require.NoError(t, p.orch.Stop(acct.ID))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunIdle, run.Status)
	assert.Equal(t, 1, run.ProcessedMessages)
	assert.Equal(t, 1, run.ApplicationsFound)
	assert.Empty(t, run.ErrorCode)

	cur, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", cur.LastProcessedMessageID)

	assert.ErrorIs(t, p.orch.Stop(acct.ID), ErrNoActiveRun)
}

func TestOrchestrator_TransientFailureKeepsEarlierBatches(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(
		acmeConfirmation("m1", time.Hour),
		msg("m2", 2*time.Hour, "jobs@initech.com", "Interview invitation", "Pick a slot."),
	)
	f.fetchErr["m2"] = errors.New("connection reset by peer")
	p := newPipeline(t, db, f, 1)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, "fetch_failed", run.ErrorCode)
	assert.Equal(t, 1, run.ApplicationsFound)
	assert.Nil(t, run.LastCompletedAt)
	assert.Equal(t, 3, f.fetchCalls)

	cur, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", cur.LastProcessedMessageID)

	recs, err := p.store.ListAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestOrchestrator_CredentialErrorRevokesAccount(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour))
	f.listErr = &SyncError{Code: CodeCredential, Err: errors.New("invalid_grant")}
	p := newPipeline(t, db, f, 50)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, "credential_revoked", run.ErrorCode)
	assert.Equal(t, models.CredentialRevoked, p.accounts.status(acct.ID))
	assert.Equal(t, 1, f.listCalls)
}

func TestOrchestrator_CursorNeverMovesBackwards(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	p := newPipeline(t, db, newFakeFetcher(acmeConfirmation("m3", 3*time.Hour)), 50)
	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)
	before, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)

	// A mailbox that suddenly serves older mail must not drag the cursor back.
	p.accounts.setFetcher(newFakeFetcher(acmeConfirmation("m1", time.Hour), acmeConfirmation("m3", 3*time.Hour)))
	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))
	waitRun(t, p.orch, acct.ID)

	after, err := p.cursors.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, after.Watermark().Before(before.Watermark()))
	assert.Equal(t, "m3", after.LastProcessedMessageID)
}

func TestOrchestrator_ShutdownCancelsRuns(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	seedUser(t, db, "u1", nil)
	acct := seedAccount(t, db, "a1", "u1")

	f := newFakeFetcher(acmeConfirmation("m1", time.Hour))
	f.listGate = make(chan struct{})
	p := newPipeline(t, db, f, 50)

	require.NoError(t, p.orch.Start(ctx, acct, models.TriggerManual))

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, p.orch.Shutdown(sctx))
	assert.False(t, p.orch.Running(acct.ID))

	run, err := p.runs.Get(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunIdle, run.Status)
}
