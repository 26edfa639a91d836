package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newGmailTestService(t *testing.T, h http.Handler) *gmail.Service {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return svc
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGmailFetcher_ListSinceReturnsOldestFirst(t *testing.T) {
	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	var (
		mu      sync.Mutex
		queries []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"messages":      []map[string]string{{"id": "m3"}, {"id": "m2"}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": []map[string]string{{"id": "m1"}},
		})
	})

	f := NewGmailFetcher(newGmailTestService(t, mux))
	ids, err := f.ListSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	assert.Equal(t, fmt.Sprintf("after:%d", since.Unix()-1), queries[0])
	assert.NoError(t, f.Close())
}

func TestGmailFetcher_FetchBatch(t *testing.T) {
	received := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "metadata", r.URL.Query().Get("format"))
		assert.ElementsMatch(t, []string{"From", "Subject"}, r.URL.Query()["metadataHeaders"])
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "m1",
			"snippet":      "Thanks &amp; regards, we&#39;ll be in touch",
			"internalDate": fmt.Sprint(received.UnixMilli()),
			"payload": map[string]interface{}{
				"headers": []map[string]string{
					{"name": "From", "value": "Acme Recruiting <jobs@acme.com>"},
					{"name": "Subject", "value": "Your application to Acme Corp"},
				},
			},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": map[string]interface{}{"code": 404, "message": "Requested entity was not found."},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/broken", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{"code": 503, "message": "Backend Error"},
		})
	})

	f := NewGmailFetcher(newGmailTestService(t, mux))

	envs, err := f.FetchBatch(context.Background(), []string{"m1", "gone"})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "m1", envs[0].MessageID)
	assert.Equal(t, "Acme Recruiting <jobs@acme.com>", envs[0].From)
	assert.Equal(t, "Your application to Acme Corp", envs[0].Subject)
	assert.Equal(t, "Thanks & regards, we'll be in touch", envs[0].Snippet)
	assert.True(t, envs[0].ReceivedAt.Equal(received))

	_, err = f.FetchBatch(context.Background(), []string{"broken"})
	require.Error(t, err)
	assert.True(t, retryable(err), "5xx is transient")
}

func TestGmailFetcher_PermissionErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    403,
				"message": "Request had insufficient authentication scopes.",
				"errors":  []map[string]string{{"reason": "insufficientPermissions", "message": "Insufficient Permission"}},
			},
		})
	})

	f := NewGmailFetcher(newGmailTestService(t, mux))
	_, err := f.ListSince(context.Background(), time.Now())
	require.Error(t, err)

	se := classifyFetchError("a1", err)
	assert.Equal(t, CodeScopeMissing, se.Code)
	assert.Equal(t, "gmail_scope_missing", se.RunErrorCode())
	assert.False(t, retryable(err))
}

func startIMAPServer(t *testing.T) string {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })
	return l.Addr().String()
}

func TestIMAPFetcher(t *testing.T) {
	addr := startIMAPServer(t)
	ctx := context.Background()

	f, err := DialIMAP(addr, "username", "password", IMAPOptions{Insecure: true})
	require.NoError(t, err)
	defer f.Close()

	ids, err := f.ListSince(ctx, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"imap-1-6"}, ids)

	envs, err := f.FetchBatch(ctx, ids)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "imap-1-6", envs[0].MessageID)
	assert.Equal(t, "A little message, just for you", envs[0].Subject)
	assert.Equal(t, "contact@example.org", ParseSender(envs[0].From).Address)
	assert.Equal(t, "Hi there :)", envs[0].Snippet)
	assert.WithinDuration(t, time.Now(), envs[0].ReceivedAt, time.Hour)

	future, err := f.ListSince(ctx, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, future)

	_, err = f.FetchBatch(ctx, []string{"imap-2-6"})
	assert.Error(t, err, "ids from another uidvalidity are rejected")
}

func TestIMAPFetcher_ListsByInternalDate(t *testing.T) {
	addr := startIMAPServer(t)
	ctx := context.Background()

	// Appended after the seeded message but received earlier.
	c, err := client.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, c.Login("username", "password"))
	raw := "From: jobs@acme.com\r\nSubject: Your application to Acme Corp\r\n\r\nThanks.\r\n"
	require.NoError(t, c.Append("INBOX", nil, time.Now().Add(-3*time.Hour), bytes.NewBufferString(raw)))
	require.NoError(t, c.Logout())

	f, err := DialIMAP(addr, "username", "password", IMAPOptions{Insecure: true})
	require.NoError(t, err)
	defer f.Close()

	ids, err := f.ListSince(ctx, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"imap-1-7", "imap-1-6"}, ids)

	envs, err := f.FetchBatch(ctx, ids)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "Your application to Acme Corp", envs[0].Subject)
	assert.True(t, envs[0].ReceivedAt.Before(envs[1].ReceivedAt))
}

func TestIMAPFetcher_BadLoginIsCredentialError(t *testing.T) {
	addr := startIMAPServer(t)

	_, err := DialIMAP(addr, "username", "wrong", IMAPOptions{Insecure: true})
	require.Error(t, err)
	assert.True(t, IsCredentialError(err))
}
