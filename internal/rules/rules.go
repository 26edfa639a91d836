// Package rules holds the versioned, data-driven rule set the filter engine
// and classifier run against.
package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/justsurfingit/jobsync/internal/models"
	"gopkg.in/yaml.v3"
)

// StatusRule maps a subject/snippet phrase to an application status.
type StatusRule struct {
	Keyword string                   `yaml:"keyword"`
	Status  models.ApplicationStatus `yaml:"status"`
}

// RuleSet is immutable once published through a Store.
type RuleSet struct {
	Version              string       `yaml:"version"`
	Keywords             []string     `yaml:"keywords"`
	HiringPlatforms      []string     `yaml:"hiring_platforms"`
	FreeMailDomains      []string     `yaml:"free_mail_domains"`
	StatusRules          []StatusRule `yaml:"status_rules"`
	FalsePositivePhrases []string     `yaml:"false_positive_phrases"`
}

// Parse decodes a YAML rule set and normalizes it.
func Parse(data []byte) (*RuleSet, error) {
	rs := &RuleSet{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.normalize(); err != nil {
		return nil, err
	}
	return rs, nil
}

// LoadFile reads path; a missing file yields Default().
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

func (rs *RuleSet) normalize() error {
	if strings.TrimSpace(rs.Version) == "" {
		return fmt.Errorf("rules: version is required")
	}
	if len(rs.Keywords) == 0 && len(rs.HiringPlatforms) == 0 {
		return fmt.Errorf("rules %s: no keywords or hiring platforms", rs.Version)
	}

	rs.Keywords = lowerAll(rs.Keywords)
	rs.HiringPlatforms = lowerAll(rs.HiringPlatforms)
	rs.FreeMailDomains = lowerAll(rs.FreeMailDomains)
	rs.FalsePositivePhrases = lowerAll(rs.FalsePositivePhrases)

	for i, r := range rs.StatusRules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			return fmt.Errorf("rules %s: status rule %d has no keyword", rs.Version, i)
		}
		st, err := models.ParseApplicationStatus(string(r.Status))
		if err != nil || !st.Stored() {
			return fmt.Errorf("rules %s: status rule %q: invalid status %q", rs.Version, kw, r.Status)
		}
		rs.StatusRules[i] = StatusRule{Keyword: kw, Status: st}
	}
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// IsFreeMail reports whether domain is a consumer mailbox provider.
func (rs *RuleSet) IsFreeMail(domain string) bool {
	return matchesDomain(domain, rs.FreeMailDomains)
}

// IsHiringPlatform reports whether domain belongs to an applicant tracking system.
func (rs *RuleSet) IsHiringPlatform(domain string) bool {
	return matchesDomain(domain, rs.HiringPlatforms)
}

func matchesDomain(domain string, list []string) bool {
	domain = strings.ToLower(domain)
	for _, d := range list {
		if DomainMatches(domain, d) {
			return true
		}
	}
	return false
}

// DomainMatches is true when domain equals base or is a subdomain of it.
func DomainMatches(domain, base string) bool {
	if domain == "" || base == "" {
		return false
	}
	return domain == base || strings.HasSuffix(domain, "."+base)
}

// Default is the built-in rule set used when no rules file is present.
func Default() *RuleSet {
	rs := &RuleSet{
		Version: "builtin-1",
		Keywords: []string{
			"application", "applying", "applied", "interview", "candidate", "candidacy",
			"position", "recruiter", "recruiting", "assessment", "coding challenge",
			"job offer", "offer letter", "your resume", "hiring", "opportunity",
		},
		HiringPlatforms: []string{
			"greenhouse.io", "greenhouse-mail.io", "lever.co", "myworkday.com", "workday.com",
			"ashbyhq.com", "icims.com", "jobvite.com", "smartrecruiters.com", "applytojob.com",
			"breezy.hr", "recruitee.com", "hirevue.com", "wellfound.com", "otta.com",
			"avature.net", "freshteam.com", "jobscore.com", "karat.io",
		},
		FreeMailDomains: []string{
			"gmail.com", "googlemail.com", "yahoo.com", "outlook.com", "hotmail.com",
			"live.com", "icloud.com", "me.com", "aol.com", "proton.me", "protonmail.com",
			"linkedin.com",
		},
		StatusRules: []StatusRule{
			{"application received", models.StatusApplicationConfirmation},
			{"thank you for applying", models.StatusApplicationConfirmation},
			{"thanks for applying", models.StatusApplicationConfirmation},
			{"your application to", models.StatusApplicationConfirmation},
			{"we received your application", models.StatusApplicationConfirmation},
			{"unfortunately", models.StatusRejection},
			{"not moving forward", models.StatusRejection},
			{"decided to move forward with other candidates", models.StatusRejection},
			{"will not be moving forward", models.StatusRejection},
			{"decided not to move forward", models.StatusRejection},
			{"we regret to inform you", models.StatusRejection},
			{"not to proceed with your application", models.StatusRejection},
			{"interview invitation", models.StatusInterviewInvitation},
			{"invitation to interview", models.StatusInterviewInvitation},
			{"schedule an interview", models.StatusInterviewInvitation},
			{"offer letter", models.StatusOfferMade},
			{"pleased to offer", models.StatusOfferMade},
			{"job offer", models.StatusOfferMade},
			{"assessment", models.StatusAssessmentSent},
			{"coding challenge", models.StatusAssessmentSent},
			{"take-home", models.StatusAssessmentSent},
			{"your availability", models.StatusAvailabilityRequest},
			{"availability for", models.StatusAvailabilityRequest},
			{"additional information", models.StatusInformationRequest},
			{"action required", models.StatusActionRequired},
			{"complete your application", models.StatusActionRequired},
			{"hiring freeze", models.StatusHiringFreeze},
			{"position has been put on hold", models.StatusHiringFreeze},
			{"withdrawn your application", models.StatusWithdrewApplication},
			{"application withdrawn", models.StatusWithdrewApplication},
			{"came across your profile", models.StatusInboundRequest},
			{"you would be a great fit", models.StatusInboundRequest},
			{"reaching out", models.StatusOutreach},
			{"wanted to connect", models.StatusOutreach},
		},
		FalsePositivePhrases: []string{
			"job alert", "jobs you may be interested in", "recommended jobs",
			"unsubscribe from job alerts", "new jobs matching", "weekly digest",
			"your job search", "webinar",
		},
	}
	if err := rs.normalize(); err != nil {
		panic(err)
	}
	return rs
}
