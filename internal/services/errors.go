package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/justsurfingit/jobsync/internal/auth"
)

var (
	ErrRunInProgress      = errors.New("a processing run is already active for this account")
	ErrNoActiveRun        = errors.New("no processing run is active for this account")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrNoMailbox          = errors.New("no mailbox connected")
	ErrOnboardingRequired = errors.New("onboarding required")
	ErrCursorRegression   = errors.New("cursor watermark would move backwards")
	ErrInvalidInput       = errors.New("invalid input")
)

// SyncErrorCode categorizes why a processing run stopped.
type SyncErrorCode string

const (
	// CodeTransientFetch: network or provider rate limit, retries exhausted.
	CodeTransientFetch SyncErrorCode = "TRANSIENT_FETCH"

	// CodeCredential: the stored grant was revoked or expired.
	CodeCredential SyncErrorCode = "CREDENTIAL"

	// CodeScopeMissing: the grant lacks read access to the mailbox.
	CodeScopeMissing SyncErrorCode = "SCOPE_MISSING"

	// CodeStorage: a batch could not be committed.
	CodeStorage SyncErrorCode = "STORAGE"

	// CodeCancelled: the user stopped the run.
	CodeCancelled SyncErrorCode = "CANCELLED"
)

// SyncError is the terminal error of a processing run.
type SyncError struct {
	Code      SyncErrorCode
	AccountID string
	Err       error
}

func (e *SyncError) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("%s: %v (account=%s)", e.Code, e.Err, e.AccountID)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// RunErrorCode is the error_code surfaced on a failed run.
func (e *SyncError) RunErrorCode() string {
	switch e.Code {
	case CodeScopeMissing:
		return "gmail_scope_missing"
	case CodeCredential:
		return "credential_revoked"
	case CodeStorage:
		return "storage_error"
	case CodeTransientFetch:
		return "fetch_failed"
	default:
		return ""
	}
}

func syncErrorCode(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func IsCredentialError(err error) bool { return syncErrorCode(err) == CodeCredential }

func IsCancelled(err error) bool { return syncErrorCode(err) == CodeCancelled }

// classifyFetchError wraps a mailbox provider error in the run taxonomy.
func classifyFetchError(accountID string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	code := CodeTransientFetch
	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	case auth.IsCredentialError(err):
		code = CodeCredential
	case auth.IsScopeError(err):
		code = CodeScopeMissing
	}
	return &SyncError{Code: code, AccountID: accountID, Err: err}
}

// retryable is false for errors another attempt cannot fix.
func retryable(err error) bool {
	switch classifyFetchError("", err).Code {
	case CodeTransientFetch:
		return true
	default:
		return false
	}
}
