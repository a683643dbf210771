package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/veridom/veridom/connectors"
)

// Classification is the three-tier verdict derived from the composite
// trust score via fixed thresholds.
type Classification string

const (
	Safe       Classification = "safe"
	Suspicious Classification = "suspicious"
	Dangerous  Classification = "dangerous"
)

// Fixed composite weights. Never renormalized over available sources: an
// unavailable connector contributes its neutral default instead, so
// absence of evidence is not treated as evidence of danger.
const (
	WeightRegistration = 0.30
	WeightNetwork      = 0.20
	WeightReputation   = 0.20
	WeightThreat       = 0.30
)

// Neutral defaults substituted when a connector is unavailable.
const (
	NeutralRegistration = 50
	NeutralNetwork      = 50
	NeutralReputation   = 50
	NeutralThreat       = 100
)

// Lists is the injected reference data the rule sets match against.
type Lists struct {
	RecognizedRegistrars []string `json:"recognized_registrars"`
	TrustedCountries     []string `json:"trusted_countries"`
	HighRiskCountries    []string `json:"high_risk_countries"`
}

// Breakdown records the four sub-scores that entered the composite, for
// display and for auditing a verdict after the fact.
type Breakdown struct {
	Registration int `json:"registration"`
	Network      int `json:"network"`
	Reputation   int `json:"reputation"`
	Threat       int `json:"threat"`
}

// Clamp pins a score to the 0-100 scale.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify maps a composite score to its tier. The boundaries are exact:
// 80 is safe, 79 is suspicious, 40 is suspicious, 39 is dangerous.
func Classify(score int) Classification {
	switch {
	case score >= 80:
		return Safe
	case score >= 40:
		return Suspicious
	default:
		return Dangerous
	}
}

// Score folds the connector outcomes into one composite trust score and
// classification. Heuristic findings never enter the linear formula;
// they reach scoring only through the threat connector's fallback path.
func Score(
	reg connectors.Result[connectors.RegistrationInfo],
	network connectors.Result[connectors.NetworkInfo],
	rep connectors.Result[connectors.ReputationInfo],
	threat connectors.Result[connectors.ThreatInfo],
	identity string,
	lists Lists,
	now time.Time,
) (int, Classification, Breakdown) {
	b := Breakdown{
		Registration: NeutralRegistration,
		Network:      NeutralNetwork,
		Reputation:   NeutralReputation,
		Threat:       NeutralThreat,
	}
	if reg.Available() {
		b.Registration = RegistrationScore(reg.Data, lists, now)
	}
	if network.Available() {
		b.Network = NetworkScore(network.Data, identity)
	}
	if rep.Available() {
		b.Reputation = ReputationScore(rep.Data, lists)
	}
	if threat.Available() {
		b.Threat = ThreatScore(threat.Data)
	}
	composite := int(math.Round(
		float64(b.Registration)*WeightRegistration +
			float64(b.Network)*WeightNetwork +
			float64(b.Reputation)*WeightReputation +
			float64(b.Threat)*WeightThreat))
	composite = Clamp(composite)
	return composite, Classify(composite), b
}

// RegistrationScore rewards longevity and complete registration
// metadata. Age is recomputed from the creation date every time.
func RegistrationScore(info connectors.RegistrationInfo, lists Lists, now time.Time) int {
	score := 50
	// A creation date in the future is registry garbage or clock skew,
	// not a brand-new domain. Treat it like no date at all.
	if !info.CreatedAt.IsZero() && !info.CreatedAt.After(now) {
		years, _ := info.Age(now)
		switch {
		case years >= 5:
			score += 25
		case years >= 2:
			score += 15
		case years >= 1:
			score += 5
		default:
			score -= 15
			if now.Sub(info.CreatedAt) < 30*24*time.Hour {
				score -= 15
			}
		}
	}
	if info.RegistrantOrg != "" {
		score += 5
	}
	if len(info.Nameservers) >= 2 {
		score += 5
	}
	if matchesList(info.Registrar, lists.RecognizedRegistrars) {
		score += 5
	}
	if containsFold(lists.TrustedCountries, info.RegistrantCountry) {
		score += 5
	}
	return Clamp(score)
}

// NetworkScore rewards the DNS posture of an actively operated domain.
func NetworkScore(info connectors.NetworkInfo, identity string) int {
	score := 50
	suffix := registrableSuffix(identity)
	for _, ns := range info.Nameservers {
		if suffix != "" && strings.HasSuffix(ns, suffix) {
			score += 5
			break
		}
	}
	if len(info.MX) > 0 {
		score += 5
	}
	if info.DNSSEC {
		score += 10
	}
	if len(info.Addresses) >= 2 {
		score += 5
	}
	for _, txt := range info.TXT {
		lower := strings.ToLower(txt)
		if strings.HasPrefix(lower, "v=spf1") || strings.Contains(lower, "dkim") || strings.HasPrefix(lower, "v=dmarc1") {
			score += 5
			break
		}
	}
	return Clamp(score)
}

// ReputationScore penalizes anonymization and abuse history.
func ReputationScore(info connectors.ReputationInfo, lists Lists) int {
	score := 50
	if info.Tor {
		score -= 20
	}
	if info.Proxy {
		score -= 15
	}
	if info.Hosting {
		score -= 10
	}
	abuse := info.AbuseReports
	if abuse > 25 {
		abuse = 25
	}
	score -= abuse
	if containsFold(lists.HighRiskCountries, info.Country) {
		score -= 10
	}
	if info.HasReverseDNS {
		score += 10
	}
	return Clamp(score)
}

// ThreatScore starts clean at 100 and only drops on evidence. When the
// source supplies its own sub-score the stricter of the two wins.
func ThreatScore(info connectors.ThreatInfo) int {
	score := 100
	if info.Malware {
		score -= 60
	}
	if info.Phishing {
		score -= 60
	}
	if info.Blacklisted {
		score -= 40
	}
	if n := len(info.Sources); n > 1 {
		score -= 10 * (n - 1)
	}
	score = Clamp(score)
	if native := Clamp(info.Score); native < score {
		score = native
	}
	return score
}

func matchesList(value string, list []string) bool {
	v := strings.ToLower(value)
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.Contains(v, strings.ToLower(item)) {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// registrableSuffix returns ".example.com" for "sub.example.com" so a
// nameserver like ns1.example.com counts as self-hosted.
func registrableSuffix(identity string) string {
	parts := strings.Split(identity, ".")
	if len(parts) < 2 {
		return ""
	}
	return "." + strings.Join(parts[len(parts)-2:], ".")
}
