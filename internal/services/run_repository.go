package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRepository persists ProcessingRun state. Every status change goes
// through models.RunStatus transitions so an invalid combination can never
// be written.
type RunRepository struct {
	DB *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{DB: db}
}

// Get returns the account's run, or an idle placeholder if it has none yet.
func (r *RunRepository) Get(ctx context.Context, accountID string) (*models.ProcessingRun, error) {
	var run models.ProcessingRun
	err := r.DB.WithContext(ctx).Where("account_id = ?", accountID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ProcessingRun{AccountID: accountID, Status: models.RunIdle}, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Begin resets the counters and moves the run to processing. A run that is
// already processing yields ErrRunInProgress and is not modified. The claim
// is a single conditional UPDATE so two processes sharing the database can
// never both win it.
func (r *RunRepository) Begin(ctx context.Context, acct *models.MailboxAccount, trigger string) (*models.ProcessingRun, error) {
	db := r.DB.WithContext(ctx)

	seed := models.ProcessingRun{AccountID: acct.ID, UserID: acct.UserID, Status: models.RunIdle}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, fmt.Errorf("begin run %s: %w", acct.ID, err)
	}

	// idle, complete and failed all reach processing; terminal ones pass through idle.
	now := time.Now().UTC()
	res := db.Model(&models.ProcessingRun{}).
		Where("account_id = ? AND status <> ?", acct.ID, models.RunProcessing).
		Updates(map[string]interface{}{
			"status":             models.RunProcessing,
			"trigger":            trigger,
			"started_at":         now,
			"finished_at":        nil,
			"error_code":         "",
			"total_messages":     0,
			"processed_messages": 0,
			"applications_found": 0,
			"filtered_messages":  0,
			"discarded_messages": 0,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("begin run %s: %w", acct.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRunInProgress
	}

	var run models.ProcessingRun
	if err := db.Where("account_id = ?", acct.ID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// SetTotal records how many messages the run will look at.
func (r *RunRepository) SetTotal(ctx context.Context, accountID string, total int) error {
	return r.DB.WithContext(ctx).Model(&models.ProcessingRun{}).
		Where("account_id = ? AND status = ?", accountID, models.RunProcessing).
		Update("total_messages", total).Error
}

// Touch marks a processing run as still alive.
func (r *RunRepository) Touch(ctx context.Context, accountID string) error {
	return r.DB.WithContext(ctx).Model(&models.ProcessingRun{}).
		Where("account_id = ? AND status = ?", accountID, models.RunProcessing).
		Update("updated_at", time.Now().UTC()).Error
}

// Progress is the counter delta of one committed batch.
type Progress struct {
	Processed int
	Found     int
	Filtered  int
	Discarded int
}

func (r *RunRepository) AddProgress(ctx context.Context, accountID string, p Progress) error {
	return r.DB.WithContext(ctx).Model(&models.ProcessingRun{}).
		Where("account_id = ? AND status = ?", accountID, models.RunProcessing).
		Updates(map[string]interface{}{
			"processed_messages": gorm.Expr("processed_messages + ?", p.Processed),
			"applications_found": gorm.Expr("applications_found + ?", p.Found),
			"filtered_messages":  gorm.Expr("filtered_messages + ?", p.Filtered),
			"discarded_messages": gorm.Expr("discarded_messages + ?", p.Discarded),
		}).Error
}

// Finish moves a processing run to next: complete, failed, or idle when it
// was cancelled.
func (r *RunRepository) Finish(ctx context.Context, accountID string, next models.RunStatus, errorCode string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.ProcessingRun
		if err := tx.Where("account_id = ?", accountID).First(&run).Error; err != nil {
			return err
		}
		if run.Status != models.RunProcessing {
			return fmt.Errorf("finish run %s: status is %s", accountID, run.Status)
		}
		if err := run.Transition(next); err != nil {
			return err
		}
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.ErrorCode = errorCode
		if next == models.RunComplete {
			run.LastCompletedAt = &now
		}
		return tx.Save(&run).Error
	})
}

// Observe returns the run for the status endpoint. A complete run is
// reported once and then reset to idle.
func (r *RunRepository) Observe(ctx context.Context, accountID string) (*models.ProcessingRun, error) {
	run, err := r.Get(ctx, accountID)
	if err != nil || run.Status != models.RunComplete {
		return run, err
	}

	observed := *run
	if err := run.Transition(models.RunIdle); err != nil {
		return nil, err
	}
	err = r.DB.WithContext(ctx).Model(&models.ProcessingRun{}).
		Where("account_id = ? AND status = ?", accountID, models.RunComplete).
		Update("status", models.RunIdle).Error
	if err != nil {
		return nil, err
	}
	return &observed, nil
}

// RecoverInterrupted fails processing runs whose row has not changed for
// idleFor, freeing accounts a crashed process left behind. Live runs touch
// their row on every batch, so a run another process (the CLI, a second
// server) is still driving is left alone. Cursors are untouched.
func (r *RunRepository) RecoverInterrupted(ctx context.Context, idleFor time.Duration) (int64, error) {
	now := time.Now().UTC()
	res := r.DB.WithContext(ctx).Model(&models.ProcessingRun{}).
		Where("status = ? AND updated_at < ?", models.RunProcessing, now.Add(-idleFor)).
		Updates(map[string]interface{}{
			"status":      models.RunFailed,
			"error_code":  "interrupted",
			"finished_at": now,
		})
	return res.RowsAffected, res.Error
}

// StaleAccounts lists accounts owned by premium users whose credentials are
// valid and whose last completed scan is older than cutoff (or missing).
func (r *RunRepository) StaleAccounts(ctx context.Context, cutoff time.Time) ([]models.MailboxAccount, error) {
	var accts []models.MailboxAccount
	err := r.DB.WithContext(ctx).
		Joins("JOIN users ON users.id = mailbox_accounts.user_id").
		Joins("LEFT JOIN processing_runs ON processing_runs.account_id = mailbox_accounts.id").
		Where("users.sync_tier = ? AND mailbox_accounts.credential_status = ?", models.SyncTierPremium, models.CredentialValid).
		Where("processing_runs.account_id IS NULL OR (processing_runs.status <> ? AND (processing_runs.last_completed_at IS NULL OR processing_runs.last_completed_at < ?))",
			models.RunProcessing, cutoff).
		Order("mailbox_accounts.id").
		Find(&accts).Error
	return accts, err
}
