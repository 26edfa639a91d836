package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/justsurfingit/jobsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DomainMemory is the per-owner set of verified employer domains.
type DomainMemory struct {
	DB    *gorm.DB
	locks *keyLock
}

func NewDomainMemory(db *gorm.DB) *DomainMemory {
	return &DomainMemory{DB: db, locks: newKeyLock()}
}

// UpsertVerified is idempotent. FirstSeenAt is written on insert only and a
// known company name is never blanked by a later empty one.
func (m *DomainMemory) UpsertVerified(ctx context.Context, ownerID, domain, companyName string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if ownerID == "" || domain == "" {
		return fmt.Errorf("%w: owner and domain are required", ErrInvalidInput)
	}

	unlock := m.locks.Lock(ownerID)
	defer unlock()

	now := time.Now().UTC()
	row := models.VerifiedDomain{
		UserID:      ownerID,
		Domain:      domain,
		CompanyName: companyName,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
	err := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "domain"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"company_name": gorm.Expr("CASE WHEN excluded.company_name <> '' THEN excluded.company_name ELSE verified_domains.company_name END"),
			"updated_at":   now,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert verified domain: %w", err)
	}
	return nil
}

// IsVerified is true when domain or one of its parent domains is verified for ownerID.
func (m *DomainMemory) IsVerified(ctx context.Context, ownerID, domain string) (bool, error) {
	candidates := parentDomains(strings.ToLower(domain))
	if len(candidates) == 0 {
		return false, nil
	}
	var count int64
	err := m.DB.WithContext(ctx).Model(&models.VerifiedDomain{}).
		Where("user_id = ? AND domain IN ?", ownerID, candidates).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *DomainMemory) ListVerified(ctx context.Context, ownerID string) ([]models.VerifiedDomain, error) {
	var out []models.VerifiedDomain
	err := m.DB.WithContext(ctx).Where("user_id = ?", ownerID).Order("domain").Find(&out).Error
	return out, err
}

// Forget removes a domain on explicit user or admin request.
func (m *DomainMemory) Forget(ctx context.Context, ownerID, domain string) error {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	res := m.DB.WithContext(ctx).
		Where("user_id = ? AND domain = ?", ownerID, strings.ToLower(domain)).
		Delete(&models.VerifiedDomain{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// parentDomains: "a.b.acme.com" -> [a.b.acme.com b.acme.com acme.com].
func parentDomains(domain string) []string {
	var out []string
	for strings.Contains(domain, ".") {
		out = append(out, domain)
		domain = domain[strings.IndexByte(domain, '.')+1:]
	}
	return out
}
