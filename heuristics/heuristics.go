package heuristics

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrEmptyInput is returned by Normalize when nothing scannable remains
// after stripping scheme and whitespace.
var ErrEmptyInput = fmt.Errorf("empty or malformed input")

var digitSandwich = regexp.MustCompile(`[a-z][0-9]+[a-z]`)

// Lists holds the injected pattern data the analyzer matches against.
// These are configuration, not compiled-in constants, so operators can
// update them without a redeploy and tests can use minimal fixtures.
type Lists struct {
	Brands         []string `json:"brands"`
	SuspiciousTLDs []string `json:"suspicious_tlds"`
	TrustedDomains []string `json:"trusted_domains"`
}

type Analyzer struct {
	ID    string
	Lists Lists
}

func NewAnalyzer(lists Lists) *Analyzer {
	brands := make([]string, 0, len(lists.Brands))
	for _, b := range lists.Brands {
		brands = append(brands, strings.ToLower(b))
	}
	tlds := make([]string, 0, len(lists.SuspiciousTLDs))
	for _, t := range lists.SuspiciousTLDs {
		tlds = append(tlds, strings.ToLower(strings.TrimPrefix(t, ".")))
	}
	trusted := make([]string, 0, len(lists.TrustedDomains))
	for _, d := range lists.TrustedDomains {
		trusted = append(trusted, strings.ToLower(d))
	}
	lists.Brands = brands
	lists.SuspiciousTLDs = tlds
	lists.TrustedDomains = trusted
	return &Analyzer{ID: "analyzer", Lists: lists}
}

// Normalize canonicalizes a raw URL or hostname into a DomainIdentity:
// lowercase host, no scheme, no leading www, no path or port. It is
// idempotent and performs no network validation; a syntactically odd but
// well-formed host is normalized, not rejected.
func Normalize(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(s, "://"); i != -1 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i != -1 {
		s = s[:i]
	}
	if i := strings.Index(s, "@"); i != -1 {
		s = s[i+1:]
	}
	if i := strings.Index(s, ":"); i != -1 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	s = strings.Trim(s, ".")
	if s == "" || strings.ContainsAny(s, " \t") {
		return "", ErrEmptyInput
	}
	return s, nil
}

// RegistrableLabel returns the second-level label of the host, the part
// brand comparisons run against ("accounts.g00gle.com" -> "g00gle").
func RegistrableLabel(host string) string {
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		reg = host
	}
	if i := strings.Index(reg, "."); i != -1 {
		return reg[:i]
	}
	return reg
}

// Analyze runs the local pattern checks against a normalized identity.
// It never performs I/O. The returned labels are ordered by rule; an
// empty slice means no local pattern concerns, which is itself a signal.
func (a *Analyzer) Analyze(identity string) []string {
	findings := make([]string, 0)
	host := identity
	label := RegistrableLabel(host)

	// A trusted domain is exempt from the pattern rules outright. The
	// brand list contains these same names, so without the exemption
	// the legitimate owner would trip its own brand rule.
	for _, d := range a.Lists.TrustedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return findings
		}
	}

	if strings.Count(host, "-") > 2 {
		findings = append(findings, "excessive hyphenation in hostname")
	}

	if digitSandwich.MatchString(label) {
		findings = append(findings, "digit substitution pattern in domain label")
	}

	for _, brand := range a.Lists.Brands {
		if strings.Contains(host, brand) && !strings.HasPrefix(host, brand) {
			findings = append(findings, fmt.Sprintf("contains brand %q without leading with it", brand))
			break
		}
	}

	for _, tld := range a.Lists.SuspiciousTLDs {
		if strings.HasSuffix(host, "."+tld) {
			findings = append(findings, fmt.Sprintf("abuse-prone TLD .%s", tld))
			break
		}
	}

	for _, brand := range a.Lists.Brands {
		if label == brand {
			continue
		}
		if looksLikeTyposquat(label, brand) {
			findings = append(findings, fmt.Sprintf("possible typosquat of %q", brand))
			break
		}
	}

	return findings
}

// looksLikeTyposquat is a cheap edit-distance stand-in: length within 2
// and at most 2 per-position character differences.
func looksLikeTyposquat(label, brand string) bool {
	diff := len(label) - len(brand)
	if diff < -2 || diff > 2 {
		return false
	}
	n := len(label)
	if len(brand) < n {
		n = len(brand)
	}
	var mismatches int
	for i := 0; i < n; i++ {
		if label[i] != brand[i] {
			mismatches++
			if mismatches > 2 {
				return false
			}
		}
	}
	return true
}
