package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"golang.org/x/sync/errgroup"
)

// Scheduler starts auto-rescans for premium accounts whose last completed
// scan is older than the staleness threshold.
type Scheduler struct {
	Runs         *RunRepository
	Orchestrator *Orchestrator
	Interval     time.Duration
	Staleness    time.Duration
	Concurrency  int

	// InterruptedAfter, when set, makes every tick first free runs that
	// stopped making progress.
	InterruptedAfter time.Duration
}

func NewScheduler(runs *RunRepository, o *Orchestrator, interval, staleness time.Duration, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{Runs: runs, Orchestrator: o, Interval: interval, Staleness: staleness, Concurrency: concurrency}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Printf("[Scheduler] started (interval=%s, staleness=%s)", s.Interval, s.Staleness)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Scheduler] stopped")
			return
		case <-ticker.C:
			if n, err := s.Tick(ctx); err != nil {
				log.Printf("[Scheduler] tick failed: %v", err)
			} else if n > 0 {
				log.Printf("[Scheduler] %d auto-rescans completed", n)
			}
		}
	}
}

// Tick runs one auto-rescan pass and waits for it. It returns how many runs
// it started.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if s.InterruptedAfter > 0 {
		if n, err := s.Runs.RecoverInterrupted(ctx, s.InterruptedAfter); err != nil {
			return 0, err
		} else if n > 0 {
			log.Printf("[Scheduler] marked %d interrupted run(s) as failed", n)
		}
	}

	accts, err := s.Runs.StaleAccounts(ctx, time.Now().UTC().Add(-s.Staleness))
	if err != nil {
		return 0, err
	}
	if len(accts) == 0 {
		return 0, nil
	}

	started := make([]bool, len(accts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i := range accts {
		acct := accts[i]
		g.Go(func() error {
			err := s.Orchestrator.Start(gctx, &acct, models.TriggerAuto)
			if errors.Is(err, ErrRunInProgress) {
				return nil
			}
			if err != nil {
				// One account must not hold up the rest of the pass.
				log.Printf("[Scheduler] account %s: start failed: %v", acct.ID, err)
				return nil
			}
			started[i] = true
			return s.Orchestrator.Wait(gctx, acct.ID)
		})
	}
	err = g.Wait()

	n := 0
	for _, ok := range started {
		if ok {
			n++
		}
	}
	return n, err
}
