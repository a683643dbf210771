package connectors

import "time"

// RegistrationInfo is what the WHOIS/RDAP side of the world knows about
// a domain. Age is derived from CreatedAt at scoring time, never stored,
// since "2 days old" is wrong by tomorrow.
type RegistrationInfo struct {
	Registrar         string    `json:"registrar"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	RegistrantCountry string    `json:"registrant_country"`
	RegistrantOrg     string    `json:"registrant_org"`
	Nameservers       []string  `json:"nameservers"`
}

// Age returns whole years and leftover months since registration, or
// (0, 0) when the creation date is unknown.
func (r RegistrationInfo) Age(now time.Time) (years int, months int) {
	if r.CreatedAt.IsZero() || r.CreatedAt.After(now) {
		return 0, 0
	}
	y, m := now.Year()-r.CreatedAt.Year(), int(now.Month())-int(r.CreatedAt.Month())
	if now.Day() < r.CreatedAt.Day() {
		m--
	}
	if m < 0 {
		y--
		m += 12
	}
	return y, m
}

type NetworkInfo struct {
	Addresses   []string            `json:"addresses"`
	Nameservers []string            `json:"nameservers"`
	MX          []string            `json:"mx"`
	TXT         []string            `json:"txt"`
	DNSSEC      bool                `json:"dnssec"`
	ReverseDNS  map[string][]string `json:"reverse_dns,omitempty"`
}

type ReputationInfo struct {
	IP            string `json:"ip"`
	Country       string `json:"country"`
	ISP           string `json:"isp"`
	Org           string `json:"org"`
	Proxy         bool   `json:"proxy"`
	Tor           bool   `json:"tor"`
	Hosting       bool   `json:"hosting"`
	AbuseReports  int    `json:"abuse_reports"`
	HasReverseDNS bool   `json:"has_reverse_dns"`
}

type ThreatInfo struct {
	Blacklisted bool     `json:"blacklisted"`
	Sources     []string `json:"sources,omitempty"`
	Malware     bool     `json:"malware"`
	Phishing    bool     `json:"phishing"`
	// Score is the source-native 0-100 sub-score; 100 means clean.
	Score int `json:"score"`
}

type TransportInfo struct {
	SSLValid        bool      `json:"ssl_valid"`
	SSLIssuer       string    `json:"ssl_issuer,omitempty"`
	SSLExpires      time.Time `json:"ssl_expires,omitempty"`
	SecurityHeaders int       `json:"security_headers"`
}
