package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const unknownCompany = "Unknown"

var (
	// "Your application to Acme Corp", "Interview with Globex"
	companyInSubject = regexp.MustCompile(`\b(?:[Tt]o|[Aa]t|[Ww]ith|[Ff]rom)\s+((?:[A-Z][\w&.'-]*)(?:\s+[A-Z][\w&.'-]*)*)`)

	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bfor (?:the |our )?([\w/&+,.' -]+?) (?:position|role|opening|job)\b`),
		regexp.MustCompile(`(?i)\bapplication for (?:the )?([\w/&+,.' -]+?)(?: at | with | - |$)`),
	}

	orgSuffixWords = map[string]bool{
		"recruiting": true, "recruitment": true, "careers": true, "career": true,
		"talent": true, "acquisition": true, "hiring": true, "team": true, "jobs": true,
		"hr": true, "people": true, "via": true, "at": true, "the": true,
	}

	titleAbbreviations = map[string]string{
		"sr":  "senior",
		"jr":  "junior",
		"swe": "software engineer",
		"sde": "software development engineer",
		"eng": "engineer",
		"mgr": "manager",
		"dev": "developer",
		"pm":  "product manager",
		"ml":  "machine learning",
		"qa":  "quality assurance",
	}

	secondLevelSuffixes = map[string]bool{"co": true, "com": true, "org": true, "net": true, "ac": true, "gov": true}
)

// CompanyHints carries what the pipeline knows about a sender beyond the headers.
type CompanyHints struct {
	VerifiedCompany string // remembered for the sender's verified domain
	PlatformOrFree  bool   // sender domain is an ATS or consumer mailbox
}

// ExtractCompany picks a company name for a message. Order: a capitalized
// name after to/at/with/from in the subject, the verified domain's company,
// an organizational display name, the domain label, then "Unknown".
func ExtractCompany(subject string, sender Sender, hints CompanyHints) string {
	if m := companyInSubject.FindAllStringSubmatch(subject, -1); len(m) > 0 {
		name := strings.TrimRight(m[len(m)-1][1], ".,'-")
		// Skip very short names; "To X" matches far too much.
		if len(name) >= 2 {
			return name
		}
	}

	if hints.VerifiedCompany != "" {
		return hints.VerifiedCompany
	}

	if name, org := companyFromDisplayName(sender.Name); name != "" && (org || hints.PlatformOrFree) {
		return name
	}

	if !hints.PlatformOrFree {
		if label := domainLabel(sender.Domain); label != "" {
			return cases.Title(language.English).String(label)
		}
	}
	return unknownCompany
}

// companyFromDisplayName strips recruiting words from "Stripe Recruiting".
// org is true when such a word was present, i.e. the name is not a person.
func companyFromDisplayName(display string) (name string, org bool) {
	if display == "" || strings.Contains(display, "@") {
		return "", false
	}
	var kept []string
	for _, w := range strings.Fields(display) {
		if orgSuffixWords[strings.ToLower(strings.Trim(w, ",.-|"))] {
			org = true
			continue
		}
		kept = append(kept, w)
	}
	return strings.TrimSpace(strings.Trim(strings.Join(kept, " "), ",-|")), org
}

// domainLabel returns the registrable label: "mail.acme.co.uk" -> "acme".
func domainLabel(domain string) string {
	labels := strings.Split(strings.ToLower(domain), ".")
	if len(labels) < 2 {
		return ""
	}
	i := len(labels) - 2
	if secondLevelSuffixes[labels[i]] && i > 0 {
		i--
	}
	return labels[i]
}

// ExtractJobTitle looks for a role name in the subject, then the snippet.
func ExtractJobTitle(subject, snippet string) string {
	for _, text := range []string{subject, snippet} {
		for _, re := range titlePatterns {
			if m := re.FindStringSubmatch(text); m != nil {
				if t := cleanTitle(m[1]); t != "" && len(t) <= 120 {
					return t
				}
			}
		}
	}
	return ""
}

// cleanTitle drops a lead-in such as "applying to the" or "your interest in"
// picked up by the lazy match.
func cleanTitle(t string) string {
	lower := strings.ToLower(t)
	for _, sep := range []string{" to ", " in ", " for "} {
		if i := strings.LastIndex(lower, sep); i >= 0 {
			t, lower = t[i+len(sep):], lower[i+len(sep):]
		}
	}
	for _, p := range []string{"the ", "our ", "a ", "an "} {
		if strings.HasPrefix(lower, p) {
			t = t[len(p):]
			break
		}
	}
	return strings.TrimSpace(t)
}

// NormalizeJobTitle expands common abbreviations and title-cases the result,
// so "Sr. SWE" and "senior software engineer" compare equal.
func NormalizeJobTitle(title string) string {
	title = strings.ToLower(title)
	title = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '(', ')', '-', '_', '/', '|':
			return ' '
		}
		return r
	}, title)

	words := strings.Fields(title)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if exp, ok := titleAbbreviations[w]; ok {
			w = exp
		}
		out = append(out, w)
	}
	norm := cases.Title(language.English).String(strings.Join(out, " "))
	if len(norm) > 255 {
		norm = norm[:255]
	}
	return norm
}
