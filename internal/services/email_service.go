package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// Fetcher reads one connected mailbox.
type Fetcher interface {
	// ListSince returns the ids of messages received at or after since,
	// oldest first.
	ListSince(ctx context.Context, since time.Time) ([]string, error)

	// FetchBatch loads envelopes for ids. Messages that disappeared since
	// listing are skipped.
	FetchBatch(ctx context.Context, ids []string) ([]*Envelope, error)

	Close() error
}

// GmailFetcher implements Fetcher over the Gmail REST API.
type GmailFetcher struct {
	Service *gmail.Service
}

func NewGmailFetcher(srv *gmail.Service) *GmailFetcher {
	return &GmailFetcher{Service: srv}
}

func (f *GmailFetcher) ListSince(ctx context.Context, since time.Time) ([]string, error) {
	// after: has second granularity; step back one so the boundary second is
	// included. The orchestrator drops anything at or before the watermark.
	q := fmt.Sprintf("after:%d", since.Unix()-1)

	var ids []string
	err := f.Service.Users.Messages.List("me").Q(q).MaxResults(500).
		Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, m := range resp.Messages {
				ids = append(ids, m.Id)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	// Gmail lists newest first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

func (f *GmailFetcher) FetchBatch(ctx context.Context, ids []string) ([]*Envelope, error) {
	out := make([]*Envelope, 0, len(ids))
	for _, id := range ids {
		msg, err := f.Service.Users.Messages.Get("me", id).
			Format("metadata").MetadataHeaders("From", "Subject").
			Context(ctx).Do()
		if isNotFoundError(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, envelopeFromGmail(msg))
	}
	return out, nil
}

func (f *GmailFetcher) Close() error { return nil }

func envelopeFromGmail(msg *gmail.Message) *Envelope {
	headers := parseHeaders(msg)
	return &Envelope{
		MessageID:  msg.Id,
		From:       headers["From"],
		Subject:    headers["Subject"],
		Snippet:    html.UnescapeString(msg.Snippet),
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
}

func parseHeaders(msg *gmail.Message) map[string]string {
	res := make(map[string]string)
	if msg.Payload == nil {
		return res
	}
	for _, h := range msg.Payload.Headers {
		res[h.Name] = h.Value
	}
	return res
}

func isNotFoundError(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}
