package services

import (
	"strings"

	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/justsurfingit/jobsync/internal/rules"
)

type RuleKind string

const (
	RuleVerifiedDomain RuleKind = "verified_domain"
	RuleKeyword        RuleKind = "keyword"
	RuleHiringPlatform RuleKind = "hiring_platform"
)

// RuleRef names the rule that admitted a candidate.
type RuleRef struct {
	Kind    RuleKind
	Value   string
	Version string
}

type FilterResult struct {
	IsCandidate bool
	MatchedRule *RuleRef
}

// RuleSnapshot is the explicit rule state one orchestration pass filters and
// classifies against: a fixed RuleSet plus the owner's verified domains.
// Domains confirmed during the pass are added through AddVerified, so a
// snapshot only ever widens.
type RuleSnapshot struct {
	Rules    *rules.RuleSet
	verified map[string]string // domain -> company name, may be empty
}

func NewRuleSnapshot(rs *rules.RuleSet, verified []models.VerifiedDomain) *RuleSnapshot {
	s := &RuleSnapshot{Rules: rs, verified: make(map[string]string, len(verified))}
	for _, d := range verified {
		s.AddVerified(d.Domain, d.CompanyName)
	}
	return s
}

// AddVerified records domain; an existing company name is kept when company is empty.
func (s *RuleSnapshot) AddVerified(domain, company string) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return
	}
	if prev, ok := s.verified[domain]; ok && company == "" {
		company = prev
	}
	s.verified[domain] = company
}

// CompanyFor returns the company remembered for a verified domain.
func (s *RuleSnapshot) CompanyFor(domain string) string {
	if d, ok := s.VerifiedMatch(domain); ok {
		return s.verified[d]
	}
	return ""
}

// VerifiedMatch returns the verified domain that covers domain (itself or a
// parent), if any.
func (s *RuleSnapshot) VerifiedMatch(domain string) (string, bool) {
	domain = strings.ToLower(domain)
	for domain != "" {
		if _, ok := s.verified[domain]; ok {
			return domain, true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
		if !strings.Contains(domain, ".") {
			break // never match a bare TLD
		}
	}
	return "", false
}

func (s *RuleSnapshot) VerifiedCount() int { return len(s.verified) }

// ClassifyCandidate decides whether env deserves classification. It is a pure
// function of its inputs. Precedence: verified domain, keyword, hiring platform.
func ClassifyCandidate(env *Envelope, snap *RuleSnapshot) FilterResult {
	sender := ParseSender(env.From)
	version := snap.Rules.Version

	if d, ok := snap.VerifiedMatch(sender.Domain); ok {
		return FilterResult{IsCandidate: true, MatchedRule: &RuleRef{Kind: RuleVerifiedDomain, Value: d, Version: version}}
	}

	text := strings.ToLower(env.Subject + "\n" + env.Snippet)
	for _, kw := range snap.Rules.Keywords {
		if strings.Contains(text, kw) {
			return FilterResult{IsCandidate: true, MatchedRule: &RuleRef{Kind: RuleKeyword, Value: kw, Version: version}}
		}
	}

	for _, p := range snap.Rules.HiringPlatforms {
		if rules.DomainMatches(sender.Domain, p) {
			return FilterResult{IsCandidate: true, MatchedRule: &RuleRef{Kind: RuleHiringPlatform, Value: p, Version: version}}
		}
	}

	return FilterResult{}
}
