package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"gorm.io/gorm"
)

// CursorStore persists per-account ingestion watermarks.
type CursorStore struct {
	DB    *gorm.DB
	locks *keyLock
}

func NewCursorStore(db *gorm.DB) *CursorStore {
	return &CursorStore{DB: db, locks: newKeyLock()}
}

// Get returns nil, nil when the account has never been synced.
func (s *CursorStore) Get(ctx context.Context, accountID string) (*models.SyncCursor, error) {
	var c models.SyncCursor
	err := s.DB.WithContext(ctx).Where("account_id = ?", accountID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Ensure returns the cursor, creating it at boundary for a first sync.
func (s *CursorStore) Ensure(ctx context.Context, accountID string, boundary time.Time) (*models.SyncCursor, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	c := models.SyncCursor{
		AccountID:       accountID,
		LastProcessedAt: boundary.UTC(),
		StartBoundary:   boundary.UTC(),
	}
	if err := s.DB.WithContext(ctx).Where("account_id = ?", accountID).FirstOrCreate(&c).Error; err != nil {
		return nil, fmt.Errorf("ensure cursor: %w", err)
	}
	return &c, nil
}

// Advance moves the watermark forward. It must only be called once the
// batch up to w is committed. A stale epoch or an older watermark returns
// ErrCursorRegression and leaves the cursor untouched; an equal one is a no-op.
func (s *CursorStore) Advance(ctx context.Context, accountID string, epoch int, w models.Watermark) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.SyncCursor
		if err := tx.Where("account_id = ?", accountID).First(&cur).Error; err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		if cur.Epoch != epoch {
			return fmt.Errorf("%w: epoch %d superseded by %d", ErrCursorRegression, epoch, cur.Epoch)
		}
		if w.Before(cur.Watermark()) {
			return fmt.Errorf("%w: %s < %s", ErrCursorRegression, w.At.Format(time.RFC3339Nano), cur.LastProcessedAt.Format(time.RFC3339Nano))
		}
		if !cur.Watermark().Before(w) {
			return nil
		}
		return tx.Model(&models.SyncCursor{}).
			Where("account_id = ? AND epoch = ?", accountID, epoch).
			Updates(map[string]interface{}{
				"last_processed_at":         w.At.UTC(),
				"last_processed_message_id": w.MessageID,
				"updated_at":                time.Now().UTC(),
			}).Error
	})
}

// Reset opens a new epoch starting at boundary. Runs still holding the old
// epoch can no longer advance the cursor.
func (s *CursorStore) Reset(ctx context.Context, accountID string, boundary time.Time) (*models.SyncCursor, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	var out models.SyncCursor
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.SyncCursor
		err := tx.Where("account_id = ?", accountID).First(&cur).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		out = models.SyncCursor{
			AccountID:       accountID,
			LastProcessedAt: boundary.UTC(),
			StartBoundary:   boundary.UTC(),
			Epoch:           cur.Epoch + 1,
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("reset cursor: %w", err)
	}
	return &out, nil
}
