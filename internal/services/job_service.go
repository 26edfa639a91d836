package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultManualSender = "Manually Added"

// Rejects anything that looks like HTML or SVG markup in user-supplied text.
var markupPattern = regexp.MustCompile(`(?i)<\s*/?\s*[a-z!][^>]*>|javascript:|\bon[a-z]+\s*=`)

// ApplicationStore is the query and mutation surface over ApplicationRecords.
// Every method is scoped to an owner.
type ApplicationStore struct {
	DB       *gorm.DB
	PageSize int
}

func NewApplicationStore(db *gorm.DB, pageSize int) *ApplicationStore {
	if pageSize <= 0 {
		pageSize = 25
	}
	return &ApplicationStore{DB: db, PageSize: pageSize}
}

// InsertBatch writes records in one transaction. A record whose
// (owner, source message id) already exists is left as-is, so a re-fetched
// message never duplicates and never overwrites a user's edit. It returns
// the number of rows actually inserted.
func (s *ApplicationStore) InsertBatch(ctx context.Context, records []*models.ApplicationRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_message_id"}},
				DoNothing: true,
			}).Create(rec)
			if res.Error != nil {
				return res.Error
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	return inserted, nil
}

type ListQuery struct {
	Page   int // 1-based
	Status models.ApplicationStatus
}

type ListPage struct {
	Records    []models.ApplicationRecord
	Page       int
	TotalPages int
	Total      int64
}

// List returns the owner's records newest first, skipping legacy "unknown" rows.
func (s *ApplicationStore) List(ctx context.Context, ownerID string, q ListQuery) (*ListPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	base := s.DB.WithContext(ctx).Model(&models.ApplicationRecord{}).
		Where("user_id = ? AND application_status <> ?", ownerID, models.StatusUnknown)
	if q.Status != "" {
		base = base.Where("application_status = ?", q.Status)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var recs []models.ApplicationRecord
	err := base.Session(&gorm.Session{}).
		Order("received_at DESC").Order("id").
		Offset((q.Page - 1) * s.PageSize).Limit(s.PageSize).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	return &ListPage{
		Records:    recs,
		Page:       q.Page,
		TotalPages: int((total + int64(s.PageSize) - 1) / int64(s.PageSize)),
		Total:      total,
	}, nil
}

// ListAll returns every listable record of the owner, newest first.
func (s *ApplicationStore) ListAll(ctx context.Context, ownerID string) ([]models.ApplicationRecord, error) {
	var recs []models.ApplicationRecord
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND application_status <> ?", ownerID, models.StatusUnknown).
		Order("received_at DESC").Order("id").
		Find(&recs).Error
	return recs, err
}

func (s *ApplicationStore) Get(ctx context.Context, ownerID, id string) (*models.ApplicationRecord, error) {
	var rec models.ApplicationRecord
	err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateManual stores a user-entered record. Its id doubles as the source
// message id so it can never collide with an ingested one.
func (s *ApplicationStore) CreateManual(ctx context.Context, ownerID string, req *dtos.ApplicationCreateRequest) (*models.ApplicationRecord, error) {
	status, err := parseStoredStatus(req.ApplicationStatus)
	if err != nil {
		return nil, err
	}
	if err := rejectMarkup(req.CompanyName, req.JobTitle, req.Subject, req.EmailFrom); err != nil {
		return nil, err
	}

	id, err := manualID(time.Now())
	if err != nil {
		return nil, err
	}
	received := time.Now().UTC()
	if req.ReceivedAt != nil {
		received = req.ReceivedAt.UTC()
	}

	rec := &models.ApplicationRecord{
		ID:                 id,
		UserID:             ownerID,
		SourceMessageID:    id,
		CompanyName:        strings.TrimSpace(req.CompanyName),
		JobTitle:           strings.TrimSpace(req.JobTitle),
		NormalizedJobTitle: NormalizeJobTitle(req.JobTitle),
		ApplicationStatus:  status,
		ReceivedAt:         received,
		Subject:            strings.TrimSpace(req.Subject),
		EmailFrom:          bareAddress(req.EmailFrom),
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}

// Update applies the non-nil fields of req. Nothing is written if any field is invalid.
func (s *ApplicationStore) Update(ctx context.Context, ownerID, id string, req *dtos.ApplicationUpdateRequest) (*models.ApplicationRecord, error) {
	updates := map[string]interface{}{}
	var texts []string

	if req.CompanyName != nil {
		updates["company_name"] = strings.TrimSpace(*req.CompanyName)
		texts = append(texts, *req.CompanyName)
	}
	if req.JobTitle != nil {
		updates["job_title"] = strings.TrimSpace(*req.JobTitle)
		updates["normalized_job_title"] = NormalizeJobTitle(*req.JobTitle)
		texts = append(texts, *req.JobTitle)
	}
	if req.Subject != nil {
		updates["subject"] = strings.TrimSpace(*req.Subject)
		texts = append(texts, *req.Subject)
	}
	if req.EmailFrom != nil {
		updates["email_from"] = bareAddress(*req.EmailFrom)
		texts = append(texts, *req.EmailFrom)
	}
	if req.ApplicationStatus != nil {
		status, err := parseStoredStatus(*req.ApplicationStatus)
		if err != nil {
			return nil, err
		}
		updates["application_status"] = status
	}
	if req.ReceivedAt != nil {
		updates["received_at"] = req.ReceivedAt.UTC()
	}
	if err := rejectMarkup(texts...); err != nil {
		return nil, err
	}

	var out models.ApplicationRecord
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, ownerID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&out).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete hard-removes one record.
func (s *ApplicationStore) Delete(ctx context.Context, ownerID, id string) error {
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID).Delete(&models.ApplicationRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ApplicationStore) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	res := s.DB.WithContext(ctx).Where("user_id = ?", ownerID).Delete(&models.ApplicationRecord{})
	return res.RowsAffected, res.Error
}

// DeleteBefore removes records received before t.
func (s *ApplicationStore) DeleteBefore(ctx context.Context, ownerID string, t time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("user_id = ? AND received_at < ?", ownerID, t.UTC()).
		Delete(&models.ApplicationRecord{})
	return res.RowsAffected, res.Error
}

func parseStoredStatus(raw string) (models.ApplicationStatus, error) {
	st, err := models.ParseApplicationStatus(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !st.Stored() {
		return "", fmt.Errorf("%w: %q cannot be stored", ErrInvalidInput, raw)
	}
	return st, nil
}

func rejectMarkup(fields ...string) error {
	for _, f := range fields {
		if markupPattern.MatchString(f) {
			return fmt.Errorf("%w: markup is not allowed", ErrInvalidInput)
		}
	}
	return nil
}

// bareAddress turns "Jane <jane@acme.com>" into "jane@acme.com".
func bareAddress(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultManualSender
	}
	if addr, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(addr.Address)
	}
	return raw
}

func manualID(now time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("manual_%s_%d", hex.EncodeToString(b), now.Unix()), nil
}
