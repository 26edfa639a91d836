package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/justsurfingit/jobsync/internal/auth"
	"github.com/justsurfingit/jobsync/internal/models"
	"google.golang.org/api/gmail/v1"
	"gorm.io/gorm"
)

// FetcherFactory opens a Fetcher for a connected account.
type FetcherFactory interface {
	Open(ctx context.Context, acct *models.MailboxAccount) (Fetcher, error)
}

// MailboxService owns MailboxAccount rows and their encrypted credentials.
type MailboxService struct {
	DB     *gorm.DB
	Gmail  *auth.GmailCredentials
	Cipher *auth.TokenCipher

	// IMAP dial options; tests connect without TLS.
	IMAP IMAPOptions
}

func NewMailboxService(db *gorm.DB, gmailCreds *auth.GmailCredentials, cipher *auth.TokenCipher) *MailboxService {
	return &MailboxService{DB: db, Gmail: gmailCreds, Cipher: cipher}
}

// PrimaryAccount is the user's first connected mailbox.
func (s *MailboxService) PrimaryAccount(ctx context.Context, userID string) (*models.MailboxAccount, error) {
	var acct models.MailboxAccount
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoMailbox
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *MailboxService) Get(ctx context.Context, accountID string) (*models.MailboxAccount, error) {
	var acct models.MailboxAccount
	err := s.DB.WithContext(ctx).Where("id = ?", accountID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// ConnectGmail exchanges an OAuth code and stores the sealed token. Connecting
// the same address again replaces the credential and revalidates it.
func (s *MailboxService) ConnectGmail(ctx context.Context, userID, code string) (*models.MailboxAccount, error) {
	tok, scopes, err := s.Gmail.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	sealed, err := s.Gmail.SealToken(tok)
	if err != nil {
		return nil, err
	}

	acct := &models.MailboxAccount{
		UserID:              userID,
		Provider:            models.ProviderGmail,
		EncryptedCredential: sealed,
		Scopes:              strings.Join(scopes, " "),
		CredentialStatus:    models.CredentialValid,
	}
	srv, err := s.Gmail.Service(ctx, acct, nil)
	if err != nil {
		return nil, err
	}
	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read gmail profile: %w", err)
	}
	acct.Address = strings.ToLower(profile.EmailAddress)
	return s.upsert(ctx, acct)
}

// ConnectIMAP verifies the login and stores the sealed password.
func (s *MailboxService) ConnectIMAP(ctx context.Context, userID, host, address, password string) (*models.MailboxAccount, error) {
	f, err := DialIMAP(host, address, password, s.IMAP)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	sealed, err := s.Cipher.Seal([]byte(password))
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, &models.MailboxAccount{
		UserID:              userID,
		Provider:            models.ProviderIMAP,
		Address:             strings.ToLower(address),
		IMAPHost:            host,
		EncryptedCredential: sealed,
		CredentialStatus:    models.CredentialValid,
	})
}

func (s *MailboxService) upsert(ctx context.Context, acct *models.MailboxAccount) (*models.MailboxAccount, error) {
	var existing models.MailboxAccount
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND address = ?", acct.UserID, acct.Provider, acct.Address).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		acct.ID = uuid.NewString()
		if err := s.DB.WithContext(ctx).Create(acct).Error; err != nil {
			return nil, err
		}
		return acct, nil
	case err != nil:
		return nil, err
	}

	err = s.DB.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"encrypted_credential": acct.EncryptedCredential,
		"scopes":               acct.Scopes,
		"imap_host":            acct.IMAPHost,
		"credential_status":    models.CredentialValid,
	}).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, existing.ID)
}

func (s *MailboxService) StoreCredential(ctx context.Context, accountID, sealed string) error {
	return s.DB.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Update("encrypted_credential", sealed).Error
}

func (s *MailboxService) SetCredentialStatus(ctx context.Context, accountID, status string) error {
	return s.DB.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Update("credential_status", status).Error
}

// CheckReadable reports whether acct can be synced at all: a Gmail account
// needs the read-only scope, and every account a valid credential.
func (s *MailboxService) CheckReadable(acct *models.MailboxAccount) error {
	if acct.CredentialStatus != models.CredentialValid {
		return &SyncError{Code: CodeCredential, AccountID: acct.ID, Err: fmt.Errorf("credential is %s", acct.CredentialStatus)}
	}
	if acct.Provider == models.ProviderGmail && !acct.HasScope(gmail.GmailReadonlyScope) && !acct.HasScope(gmail.MailGoogleComScope) {
		return &SyncError{Code: CodeScopeMissing, AccountID: acct.ID, Err: errors.New("gmail read scope not granted")}
	}
	return nil
}

// Open implements FetcherFactory.
func (s *MailboxService) Open(ctx context.Context, acct *models.MailboxAccount) (Fetcher, error) {
	switch acct.Provider {
	case models.ProviderGmail:
		srv, err := s.Gmail.Service(ctx, acct, func(sealed string) error {
			return s.StoreCredential(context.WithoutCancel(ctx), acct.ID, sealed)
		})
		if err != nil {
			return nil, err
		}
		return NewGmailFetcher(srv), nil

	case models.ProviderIMAP:
		password, err := s.Cipher.Open(acct.EncryptedCredential)
		if err != nil {
			return nil, &SyncError{Code: CodeCredential, AccountID: acct.ID, Err: err}
		}
		return DialIMAP(acct.IMAPHost, acct.Address, string(password), s.IMAP)

	default:
		log.Printf("[Mailbox] account %s has unknown provider %q", acct.ID, acct.Provider)
		return nil, fmt.Errorf("unknown provider %q", acct.Provider)
	}
}
