package models

import "fmt"

// RunStatus is the ProcessingRun state: idle → processing → {complete, failed} → idle.
// processing → idle is the cancellation edge.
type RunStatus string

const (
	RunIdle       RunStatus = "idle"
	RunProcessing RunStatus = "processing"
	RunComplete   RunStatus = "complete"
	RunFailed     RunStatus = "failed"
)

func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	switch s {
	case RunIdle, "":
		return next == RunProcessing
	case RunProcessing:
		return next == RunComplete || next == RunFailed || next == RunIdle
	case RunComplete, RunFailed:
		return next == RunIdle
	default:
		return false
	}
}

func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunFailed
}

// Transition moves the run to next or reports why it cannot.
func (r *ProcessingRun) Transition(next RunStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, next)
	}
	r.Status = next
	return nil
}

// ResetCounters zeroes the progress counters for a new pass.
func (r *ProcessingRun) ResetCounters() {
	r.TotalMessages = 0
	r.ProcessedMessages = 0
	r.ApplicationsFound = 0
	r.FilteredMessages = 0
	r.DiscardedMessages = 0
	r.ErrorCode = ""
	r.FinishedAt = nil
}
