package services

import (
	"context"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/rules"
)

// Verdict is exactly one of: a populated Record, or FalsePositive.
type Verdict struct {
	FalsePositive bool
	Record        *models.ApplicationRecord

	// StatusRule is the keyword that decided the status; empty when the
	// fallback or the default decided it.
	StatusRule   string
	UsedFallback bool

	// VerifiedDomain is the sender domain the record vouches for, to be
	// remembered once the record is stored. VerifiedCompany may be empty.
	VerifiedDomain  string
	VerifiedCompany string
}

type Classifier struct {
	Extractor ApplicationExtractor // optional
}

func NewClassifier(extractor ApplicationExtractor) *Classifier {
	return &Classifier{Extractor: extractor}
}

// Classify turns a candidate into a record or a false-positive verdict. A
// confirmed record widens snap with its sender domain right away; persisting
// the domain is left to the caller.
func (c *Classifier) Classify(ctx context.Context, ownerID string, env *Envelope, match FilterResult, snap *RuleSnapshot) (*Verdict, error) {
	rs := snap.Rules
	text := strings.ToLower(env.Subject + "\n" + env.Snippet)

	for _, phrase := range rs.FalsePositivePhrases {
		if strings.Contains(text, phrase) {
			return &Verdict{FalsePositive: true}, nil
		}
	}

	sender := ParseSender(env.From)
	platformOrFree := rs.IsFreeMail(sender.Domain) || rs.IsHiringPlatform(sender.Domain)
	fromVerified := match.MatchedRule != nil && match.MatchedRule.Kind == RuleVerifiedDomain

	verdict := &Verdict{}
	status, rule := matchStatus(text, rs.StatusRules)
	verdict.StatusRule = rule

	var ex *Extraction
	if status == "" {
		status = models.StatusInformationRequest
		if c.Extractor != nil {
			var err error
			ex, err = c.Extractor.ExtractApplication(ctx, env)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return nil, &SyncError{Code: CodeCancelled, Err: ctx.Err()}
				}
				log.Printf("[Classifier] fallback failed for message %s, using default: %v", env.MessageID, err)
				ex = nil
			case ex.Status == models.StatusFalsePositive && !fromVerified:
				return &Verdict{FalsePositive: true, UsedFallback: true}, nil
			case ex.Status.Stored():
				status = ex.Status
				verdict.UsedFallback = true
			}
		}
	}

	company := ExtractCompany(env.Subject, sender, CompanyHints{
		VerifiedCompany: snap.CompanyFor(sender.Domain),
		PlatformOrFree:  platformOrFree,
	})
	title := ExtractJobTitle(env.Subject, env.Snippet)
	if ex != nil {
		if company == unknownCompany && ex.CompanyName != "" {
			company = ex.CompanyName
		}
		if title == "" {
			title = ex.JobTitle
		}
	}

	verdict.Record = &models.ApplicationRecord{
		ID:                 uuid.NewString(),
		UserID:             ownerID,
		SourceMessageID:    env.MessageID,
		CompanyName:        truncate(company, 255),
		JobTitle:           truncate(title, 255),
		NormalizedJobTitle: NormalizeJobTitle(title),
		ApplicationStatus:  status,
		ReceivedAt:         env.ReceivedAt.UTC(),
		Subject:            truncate(env.Subject, 1000),
		EmailFrom:          truncate(sender.Address, 255),
	}

	if sender.Domain != "" && !platformOrFree {
		domainCompany := company
		if domainCompany == unknownCompany {
			domainCompany = ""
		}
		verdict.VerifiedDomain, verdict.VerifiedCompany = sender.Domain, domainCompany
		snap.AddVerified(sender.Domain, domainCompany)
	}

	return verdict, nil
}

// matchStatus applies the most specific (longest) matching keyword. Equally
// long matches that disagree resolve to Information Request.
func matchStatus(text string, statusRules []rules.StatusRule) (models.ApplicationStatus, string) {
	best := -1
	var status models.ApplicationStatus
	var keyword string
	for _, r := range statusRules {
		if !strings.Contains(text, r.Keyword) {
			continue
		}
		switch n := len(r.Keyword); {
		case n > best:
			best, status, keyword = n, r.Status, r.Keyword
		case n == best && r.Status != status:
			status, keyword = models.StatusInformationRequest, ""
		}
	}
	return status, keyword
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
