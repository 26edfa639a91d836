package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/justsurfingit/jobsync/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// NewOAuthConfig is the web-server flow config for read-only Gmail access.
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}
}

// RefreshFunc receives the re-sealed token after the OAuth library refreshed it.
type RefreshFunc func(sealed string) error

// GmailCredentials turns a stored, encrypted token into an authenticated Gmail client.
type GmailCredentials struct {
	Config *oauth2.Config
	Cipher *TokenCipher

	// Extra client options, e.g. option.WithEndpoint in tests.
	Options []option.ClientOption
}

func NewGmailCredentials(cfg *oauth2.Config, cipher *TokenCipher) *GmailCredentials {
	return &GmailCredentials{Config: cfg, Cipher: cipher}
}

func (g *GmailCredentials) SealToken(tok *oauth2.Token) (string, error) {
	b, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return g.Cipher.Seal(b)
}

func (g *GmailCredentials) OpenToken(sealed string) (*oauth2.Token, error) {
	b, err := g.Cipher.Open(sealed)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// Exchange trades an authorization code for a token and reports the granted scopes.
func (g *GmailCredentials) Exchange(ctx context.Context, code string) (*oauth2.Token, []string, error) {
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange auth code: %w", err)
	}
	var scopes []string
	if raw, ok := tok.Extra("scope").(string); ok {
		scopes = strings.Fields(raw)
	}
	return tok, scopes, nil
}

// Service builds a Gmail client for acct. Refreshed tokens are handed to onRefresh.
func (g *GmailCredentials) Service(ctx context.Context, acct *models.MailboxAccount, onRefresh RefreshFunc) (*gmail.Service, error) {
	tok, err := g.OpenToken(acct.EncryptedCredential)
	if err != nil {
		return nil, err
	}

	src := &notifyTokenSource{
		src:     g.Config.TokenSource(ctx, tok),
		current: tok,
		onRefresh: func(t *oauth2.Token) error {
			if onRefresh == nil {
				return nil
			}
			sealed, err := g.SealToken(t)
			if err != nil {
				return err
			}
			return onRefresh(sealed)
		},
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}, g.Options...)
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

type notifyTokenSource struct {
	src       oauth2.TokenSource
	current   *oauth2.Token
	onRefresh func(*oauth2.Token) error
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.current == nil || s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.onRefresh(t); err != nil {
			log.Printf("[Gmail] failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// IsCredentialError reports a revoked or expired grant: the user must reconnect.
func IsCredentialError(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client" {
			return true
		}
		if re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
			return true
		}
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusUnauthorized
	}
	return false
}

// IsScopeError reports a 403 caused by a missing Gmail scope, as opposed to quota.
func IsScopeError(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) || gErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gErr.Errors {
		if item.Reason == "insufficientPermissions" || item.Reason == "ACCESS_TOKEN_SCOPE_INSUFFICIENT" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gErr.Message), "insufficient")
}
