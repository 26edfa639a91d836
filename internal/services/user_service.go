package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/justsurfingit/jobsync/internal/dtos"
	"github.com/justsurfingit/jobsync/internal/models"
	"gorm.io/gorm"
)

// UserService reads users and decides whose data a caller may see.
type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// StartDate implements UserStartDates.
func (s *UserService) StartDate(ctx context.Context, userID string) (*time.Time, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.StartDate, nil
}

func (s *UserService) SetStartDate(ctx context.Context, userID string, t time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("start_date", t.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteOnboarding stamps the onboarding time once. Completing twice is
// invalid input.
func (s *UserService) CompleteOnboarding(ctx context.Context, userID string, now time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND onboarding_completed_at IS NULL", userID).
		Update("onboarding_completed_at", now.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, userID); err != nil {
			return err
		}
		return fmt.Errorf("%w: onboarding already completed", ErrInvalidInput)
	}
	return nil
}

// RequireOnboarded returns ErrOnboardingRequired until the user finished onboarding.
func (s *UserService) RequireOnboarded(u *models.User) error {
	if !u.OnboardingComplete() {
		return ErrOnboardingRequired
	}
	return nil
}

// ResolveOwner returns the user id whose records caller may read. An empty
// viewAs (or the caller's own id) is the caller; anything else needs an
// active coach link.
func (s *UserService) ResolveOwner(ctx context.Context, caller *models.User, viewAs string) (string, error) {
	viewAs = strings.TrimSpace(viewAs)
	if viewAs == "" || viewAs == caller.ID {
		return caller.ID, nil
	}
	if !caller.IsCoach() {
		return "", ErrForbidden
	}

	var n int64
	err := s.DB.WithContext(ctx).Model(&models.CoachClientLink{}).
		Where("coach_id = ? AND client_id = ? AND end_date IS NULL", caller.ID, viewAs).
		Count(&n).Error
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrForbidden
	}
	return viewAs, nil
}

// ListClients returns a coach's active clients.
func (s *UserService) ListClients(ctx context.Context, coach *models.User) ([]dtos.ClientResponse, error) {
	if !coach.IsCoach() {
		return nil, ErrForbidden
	}

	var rows []struct {
		ID        string
		Email     string
		StartDate time.Time
	}
	err := s.DB.WithContext(ctx).Table("coach_client_links").
		Select("users.id, users.email, coach_client_links.start_date").
		Joins("JOIN users ON users.id = coach_client_links.client_id").
		Where("coach_client_links.coach_id = ? AND coach_client_links.end_date IS NULL", coach.ID).
		Order("users.email").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]dtos.ClientResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, dtos.ClientResponse{UserID: r.ID, Email: r.Email, StartDate: r.StartDate})
	}
	return out, nil
}
