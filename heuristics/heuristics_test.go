package heuristics

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"example.com", "example.com"},
		{"HTTPS://WWW.Example.com", "example.com"},
		{"http://example.com/path?q=1", "example.com"},
		{"  example.com  ", "example.com"},
		{"example.com:8443", "example.com"},
		{"www.sub.example.com", "sub.example.com"},
		{"user@example.com", "example.com"},
		{"https://example.com.", "example.com"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.raw)
		if err != nil {
			t.Fatalf("Normalize(%q) returned error: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"HTTPS://WWW.Example.com", "weird-HOST.io:9000/x", "a.b.c.d"}
	for _, raw := range inputs {
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", raw, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)): %v", raw, err)
		}
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "https://", "http:// /"} {
		if _, err := Normalize(raw); err == nil {
			t.Errorf("Normalize(%q) expected error, got none", raw)
		}
	}
}

func fixtureAnalyzer() *Analyzer {
	return NewAnalyzer(Lists{
		Brands:         []string{"paypal", "google"},
		SuspiciousTLDs: []string{"tk", "zip"},
	})
}

func TestAnalyzeHyphens(t *testing.T) {
	a := fixtureAnalyzer()
	if got := a.Analyze("secure-login-update-portal.com"); len(got) == 0 {
		t.Error("expected hyphenation finding, got none")
	}
	if got := a.Analyze("two-hyphens-ok.com"); containsLabel(got, "hyphen") {
		t.Errorf("two hyphens should not be flagged: %v", got)
	}
}

func TestAnalyzeDigitSubstitution(t *testing.T) {
	a := fixtureAnalyzer()
	if got := a.Analyze("g00gle.com"); !containsLabel(got, "digit substitution") {
		t.Errorf("g00gle.com should trigger digit substitution: %v", got)
	}
	if got := a.Analyze("shop24.com"); containsLabel(got, "digit substitution") {
		t.Errorf("trailing digits should not trigger: %v", got)
	}
}

func TestAnalyzeBrandContainment(t *testing.T) {
	a := fixtureAnalyzer()
	if got := a.Analyze("secure-paypal.com"); !containsLabel(got, "contains brand") {
		t.Errorf("secure-paypal.com should be flagged: %v", got)
	}
	// The brand's own domain leads with the brand and is not flagged.
	if got := a.Analyze("paypal.com"); containsLabel(got, "contains brand") {
		t.Errorf("paypal.com should not be flagged: %v", got)
	}
}

func TestAnalyzeSuspiciousTLD(t *testing.T) {
	a := fixtureAnalyzer()
	if got := a.Analyze("freestuff.tk"); !containsLabel(got, "TLD") {
		t.Errorf("freestuff.tk should be flagged: %v", got)
	}
	if got := a.Analyze("freestuff.org"); containsLabel(got, "TLD") {
		t.Errorf("freestuff.org should not be flagged: %v", got)
	}
}

func TestAnalyzeTyposquat(t *testing.T) {
	a := fixtureAnalyzer()

	// One character off at the same length must be flagged.
	if got := a.Analyze("paypa1.com"); !containsLabel(got, "typosquat") {
		t.Errorf("paypa1.com should be flagged as typosquat: %v", got)
	}
	// Three or more character differences must not be.
	if got := a.Analyze("bookshop.com"); containsLabel(got, "typosquat") {
		t.Errorf("bookshop.com should not be flagged: %v", got)
	}
	// The brand itself is not its own typosquat.
	if got := a.Analyze("google.com"); containsLabel(got, "typosquat") {
		t.Errorf("google.com should not be flagged: %v", got)
	}
}

func TestAnalyzeTrustedDomainExempt(t *testing.T) {
	a := NewAnalyzer(Lists{
		Brands:         []string{"paypal"},
		TrustedDomains: []string{"PayPal.com"},
	})
	// The real brand domain and its subdomains match the brand rules
	// but sit on the trusted list, so they yield no findings.
	if got := a.Analyze("accounts.paypal.com"); len(got) != 0 {
		t.Errorf("trusted subdomain should yield no findings, got %v", got)
	}
	if got := a.Analyze("paypal.com"); len(got) != 0 {
		t.Errorf("trusted domain should yield no findings, got %v", got)
	}
	// A lookalike is not covered by the exemption.
	if got := a.Analyze("paypa1.com"); !containsLabel(got, "typosquat") {
		t.Errorf("lookalike should still be flagged: %v", got)
	}
}

func TestAnalyzeCleanDomain(t *testing.T) {
	a := fixtureAnalyzer()
	if got := a.Analyze("example.com"); len(got) != 0 {
		t.Errorf("example.com should yield no findings, got %v", got)
	}
}

func containsLabel(findings []string, fragment string) bool {
	for _, f := range findings {
		if strings.Contains(f, fragment) {
			return true
		}
	}
	return false
}
