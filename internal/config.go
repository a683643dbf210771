package internal

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/veridom/veridom/connectors"
	"github.com/veridom/veridom/heuristics"
	"github.com/veridom/veridom/scoring"
)

type Configuration struct {
	Cors              []string                      `json:"cors"`
	DatabaseType      string                        `json:"database_type"`
	BindAddress       string                        `json:"bind_address"`
	ServerID          string                        `json:"server_id"`
	FirstUserMode     bool                          `json:"first_user_mode"`
	FQDN              string                        `json:"fqdn"`
	HTTPPort          string                        `json:"http_port"`
	DBLocation        string                        `json:"db_location"`
	SessionTokenTTL   int                           `json:"session_token_ttl"`
	CacheFreshness    int                           `json:"cache_freshness"`
	ScanRetention     int                           `json:"scan_retention"`
	StatCacheTickRate int                           `json:"stat_cache_tick_rate"`
	SelfDomains       []string                      `json:"self_domains"`
	Registration      connectors.RegistrationConfig `json:"registration"`
	Network           connectors.NetworkConfig      `json:"network"`
	Reputation        connectors.ReputationConfig   `json:"reputation"`
	Threat            connectors.ThreatConfig       `json:"threat"`
	Scoring           scoring.Lists                 `json:"scoring"`
	Heuristics        heuristics.Lists              `json:"heuristics"`
}

const (
	// DefaultCacheFreshness is how long a scan record answers repeat
	// requests before a rescan is triggered, in seconds.
	DefaultCacheFreshness = 3600
	// DefaultScanRetention is how long persisted records are kept
	// before the cleanup ticker removes them, in seconds.
	DefaultScanRetention = 7 * 24 * 3600
)

// ApplyEnvOverrides fills in provider credentials that were left out of
// the config file. Keys never have to live on disk.
func (c *Configuration) ApplyEnvOverrides() {
	if c.Registration.WhoisAPIKey == "" {
		c.Registration.WhoisAPIKey = os.Getenv("VERIDOM_WHOIS_API_KEY")
	}
	if c.Reputation.AbuseKey == "" {
		c.Reputation.AbuseKey = os.Getenv("VERIDOM_ABUSE_KEY")
	}
	if c.Threat.SafeBrowsingKey == "" {
		c.Threat.SafeBrowsingKey = os.Getenv("VERIDOM_SAFE_BROWSING_KEY")
	}
	if c.Threat.BlocklistKey == "" {
		c.Threat.BlocklistKey = os.Getenv("VERIDOM_BLOCKLIST_KEY")
	}
	if c.DBLocation == "" {
		c.DBLocation = os.Getenv("VERIDOM_DB_LOCATION")
	}
}

func (c *Configuration) PopulateFromJSONFile(fh string) error {
	if !FileExists(fh) {
		return fmt.Errorf("file does not exist: %s", fh)
	}
	file, err := os.Open(fh)
	if err != nil {
		return fmt.Errorf("could not open file: %v", err)
	}
	defer file.Close()

	d := json.NewDecoder(file)
	if err := d.Decode(c); err != nil {
		return fmt.Errorf("could not decode file: %v", err)
	}

	c.ApplyDefaults()
	c.ApplyEnvOverrides()
	return nil
}

// ApplyDefaults fills the reference lists and timing knobs an empty
// config leaves unset, so a minimal file still produces useful scans.
func (c *Configuration) ApplyDefaults() {
	if c.CacheFreshness == 0 {
		c.CacheFreshness = DefaultCacheFreshness
	}
	if c.ScanRetention == 0 {
		c.ScanRetention = DefaultScanRetention
	}
	if c.SessionTokenTTL == 0 {
		c.SessionTokenTTL = 24
	}
	if c.StatCacheTickRate == 0 {
		c.StatCacheTickRate = 60
	}
	if c.DatabaseType == "" {
		c.DatabaseType = "postgres"
	}
	if len(c.Scoring.RecognizedRegistrars) == 0 {
		c.Scoring.RecognizedRegistrars = DefaultRecognizedRegistrars
	}
	if len(c.Scoring.TrustedCountries) == 0 {
		c.Scoring.TrustedCountries = DefaultTrustedCountries
	}
	if len(c.Heuristics.Brands) == 0 {
		c.Heuristics.Brands = DefaultBrands
	}
	if len(c.Heuristics.SuspiciousTLDs) == 0 {
		c.Heuristics.SuspiciousTLDs = DefaultSuspiciousTLDs
	}
	if len(c.Heuristics.TrustedDomains) == 0 {
		c.Heuristics.TrustedDomains = DefaultTrustedDomains
	}
}

var (
	DefaultRecognizedRegistrars = []string{
		"markmonitor", "csc corporate domains", "godaddy", "namecheap",
		"gandi", "cloudflare", "network solutions", "tucows", "ovh",
		"ionos", "google",
	}
	DefaultTrustedCountries = []string{
		"US", "GB", "DE", "FR", "NL", "CA", "AU", "JP", "CH", "SE", "NO",
		"DK", "FI", "IE", "AT", "BE", "NZ",
	}
	DefaultBrands = []string{
		"google", "facebook", "amazon", "apple", "microsoft", "paypal",
		"netflix", "instagram", "whatsapp", "chase", "wellsfargo",
		"bankofamerica", "coinbase", "binance", "steam", "roblox",
	}
	DefaultSuspiciousTLDs = []string{
		"tk", "ml", "ga", "cf", "gq", "top", "xyz", "work", "click",
		"loan", "zip", "mov",
	}
	DefaultTrustedDomains = []string{
		"google.com", "facebook.com", "amazon.com", "apple.com",
		"microsoft.com", "paypal.com", "netflix.com", "github.com",
		"wikipedia.org",
	}
)

func FileExists(fh string) bool {
	info, err := os.Stat(fh)
	if os.IsNotExist(err) {
		return false
	}
	return info.Mode().IsRegular()
}

func DeleteConfigFile(fh string) error {
	if !FileExists(fh) {
		return fmt.Errorf("file does not exist: %s", fh)
	}
	return os.Remove(fh)
}
