package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

func init() {
	imap.CharsetReader = charset.Reader
}

const snippetBytes = 512

// IMAPFetcher implements Fetcher for a plain IMAP INBOX. Message ids are
// "imap-<uidvalidity>-<uid>" so a UIDVALIDITY reset can never alias old ids.
type IMAPFetcher struct {
	c           *client.Client
	uidValidity uint32
}

// IMAPOptions configures the connection. Insecure skips TLS and is for tests.
type IMAPOptions struct {
	Insecure bool
	TLS      *tls.Config
}

// DialIMAP logs in and selects INBOX read-only. Authentication failures are
// reported as credential errors.
func DialIMAP(host, username, password string, opts IMAPOptions) (*IMAPFetcher, error) {
	var (
		c   *client.Client
		err error
	)
	if opts.Insecure {
		c, err = client.Dial(host)
	} else {
		c, err = client.DialTLS(host, opts.TLS)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", host, err)
	}

	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		return nil, &SyncError{Code: CodeCredential, Err: fmt.Errorf("imap login: %w", err)}
	}

	mbox, err := c.Select("INBOX", true)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select INBOX: %w", err)
	}
	return &IMAPFetcher{c: c, uidValidity: mbox.UidValidity}, nil
}

// ListSince returns ids ordered by INTERNALDATE. UID order differs from it
// for copied, moved or appended mail.
func (f *IMAPFetcher) ListSince(ctx context.Context, since time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	// SINCE compares dates only; the orchestrator filters the rest.
	criteria.Since = since.UTC().Truncate(24 * time.Hour)

	uids, err := f.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	type dated struct {
		uid uint32
		at  time.Time
	}
	list := make([]dated, 0, len(uids))
	for msg := range messages {
		list = append(list, dated{uid: msg.Uid, at: msg.InternalDate})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch dates: %w", err)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].at.Equal(list[j].at) {
			return list[i].at.Before(list[j].at)
		}
		return list[i].uid < list[j].uid
	})

	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, fmt.Sprintf("imap-%d-%d", f.uidValidity, m.uid))
	}
	return ids, nil
}

func (f *IMAPFetcher) FetchBatch(ctx context.Context, ids []string) ([]*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqset := new(imap.SeqSet)
	for _, id := range ids {
		uid, err := f.parseID(id)
		if err != nil {
			return nil, err
		}
		seqset.AddNum(uid)
	}
	if seqset.Empty() {
		return nil, nil
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.c.UidFetch(seqset, items, messages)
	}()

	byUID := make(map[uint32]*Envelope, len(ids))
	for msg := range messages {
		byUID[msg.Uid] = f.envelope(msg, section)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	// Keep the requested order.
	out := make([]*Envelope, 0, len(byUID))
	for _, id := range ids {
		uid, _ := f.parseID(id)
		if env, ok := byUID[uid]; ok {
			out = append(out, env)
		}
	}
	return out, nil
}

func (f *IMAPFetcher) Close() error {
	return f.c.Logout()
}

func (f *IMAPFetcher) parseID(id string) (uint32, error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "imap" {
		return 0, fmt.Errorf("bad imap message id %q", id)
	}
	if parts[1] != strconv.FormatUint(uint64(f.uidValidity), 10) {
		return 0, fmt.Errorf("message id %q is from a previous uidvalidity", id)
	}
	uid, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad imap message id %q: %w", id, err)
	}
	return uint32(uid), nil
}

func (f *IMAPFetcher) envelope(msg *imap.Message, section *imap.BodySectionName) *Envelope {
	env := &Envelope{
		MessageID:  fmt.Sprintf("imap-%d-%d", f.uidValidity, msg.Uid),
		ReceivedAt: msg.InternalDate.UTC(),
	}
	if e := msg.Envelope; e != nil {
		env.Subject = e.Subject
		if len(e.From) > 0 {
			env.From = formatIMAPAddress(e.From[0])
		}
	}

	if body := msg.GetBody(section); body != nil {
		subject, from, snippet, err := readMessage(body)
		if err != nil {
			log.Printf("[IMAP] message %s: unreadable body: %v", env.MessageID, err)
		}
		if subject != "" {
			env.Subject = subject
		}
		if from != "" {
			env.From = from
		}
		env.Snippet = snippet
	}
	return env
}

func formatIMAPAddress(a *imap.Address) string {
	if a.PersonalName != "" {
		return fmt.Sprintf("%q <%s>", a.PersonalName, a.Address())
	}
	return a.Address()
}

// readMessage decodes headers and the first text/plain part of a raw message.
func readMessage(r io.Reader) (subject, from, snippet string, err error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", "", "", err
	}
	defer mr.Close()

	subject, _ = mr.Header.Subject()
	if addrs, aerr := mr.Header.AddressList("From"); aerr == nil && len(addrs) > 0 {
		from = addrs[0].String()
	}

	for {
		p, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			return subject, from, snippet, perr
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if ct, _, _ := h.ContentType(); ct != "" && ct != "text/plain" {
			continue
		}
		b, rerr := io.ReadAll(io.LimitReader(p.Body, snippetBytes))
		if rerr != nil {
			return subject, from, snippet, rerr
		}
		snippet = strings.Join(strings.Fields(string(b)), " ")
		break
	}
	return subject, from, snippet, nil
}
