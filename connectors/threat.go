package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

// ThreatConnector asks the blacklist providers whether the domain is a
// known bad actor. When the whole chain is down it falls back to the
// local pattern findings instead of going silent: this is the one place
// heuristics enter scoring, so they are never counted twice.
type ThreatConnector struct {
	chain   *Chain[ThreatInfo]
	analyze func(identity string) []string
}

type ThreatConfig struct {
	SafeBrowsingURL string `json:"safe_browsing_url"`
	SafeBrowsingKey string `json:"safe_browsing_key"`
	BlocklistURL    string `json:"blocklist_url"`
	BlocklistKey    string `json:"blocklist_key"`
}

const patternFindingPenalty = 15

func NewThreatConnector(cfg ThreatConfig, analyze func(identity string) []string, logger *log.Logger) *ThreatConnector {
	var providers []Provider[ThreatInfo]
	if cfg.SafeBrowsingURL != "" {
		providers = append(providers, &safeBrowsingProvider{endpoint: NewEndpoint(cfg.SafeBrowsingURL, nil, false), key: cfg.SafeBrowsingKey})
	}
	if cfg.BlocklistURL != "" {
		providers = append(providers, &blocklistProvider{endpoint: NewEndpoint(cfg.BlocklistURL, &KeyAuth{Token: cfg.BlocklistKey}, false)})
	}
	return &ThreatConnector{
		chain:   NewChain("threat", logger, providers...),
		analyze: analyze,
	}
}

func (c *ThreatConnector) Fetch(ctx context.Context, identity string) Result[ThreatInfo] {
	res := c.chain.Run(ctx, identity)
	if res.Available() || c.analyze == nil {
		return res
	}
	// Chain exhausted: substitute pattern-derived signals for the
	// sub-score rather than claiming the domain is clean or dirty.
	findings := c.analyze(identity)
	score := 100 - patternFindingPenalty*len(findings)
	if score < 0 {
		score = 0
	}
	info := ThreatInfo{Score: score}
	reason := fmt.Sprintf("blacklist providers unavailable, scored from %d local pattern findings (%s)", len(findings), res.Reason)
	return Degraded("pattern-fallback", info, reason)
}

// --- Safe-Browsing-style URL reputation provider ---

type safeBrowsingProvider struct {
	endpoint *Endpoint
	key      string
}

func (p *safeBrowsingProvider) Name() string { return "safebrowsing" }

func (p *safeBrowsingProvider) Fetch(ctx context.Context, domain string) (ThreatInfo, error) {
	var info ThreatInfo
	payload := map[string]any{
		"threatInfo": map[string]any{
			"threatTypes":      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"},
			"platformTypes":    []string{"ANY_PLATFORM"},
			"threatEntryTypes": []string{"URL"},
			"threatEntries":    []map[string]string{{"url": "http://" + domain + "/"}},
		},
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return info, err
	}
	url := fmt.Sprintf("%s?key=%s", p.endpoint.GetURL(), p.key)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(out))
	if err != nil {
		return info, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := p.endpoint.Do(req)
	if err != nil {
		return info, err
	}
	var resp struct {
		Matches []struct {
			ThreatType string `json:"threatType"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("bad safebrowsing response: %w", err)
	}
	info.Score = 100
	for _, m := range resp.Matches {
		info.Blacklisted = true
		info.Sources = append(info.Sources, "safebrowsing:"+strings.ToLower(m.ThreatType))
		switch m.ThreatType {
		case "MALWARE", "UNWANTED_SOFTWARE":
			info.Malware = true
		case "SOCIAL_ENGINEERING":
			info.Phishing = true
		}
	}
	if info.Blacklisted {
		info.Score = 0
	}
	return info, nil
}

// --- blacklist lookup provider ---

type blocklistProvider struct {
	endpoint *Endpoint
}

func (p *blocklistProvider) Name() string { return "blocklist" }

func (p *blocklistProvider) Fetch(ctx context.Context, domain string) (ThreatInfo, error) {
	var info ThreatInfo
	url := fmt.Sprintf("%s/query/%s", strings.TrimSuffix(p.endpoint.GetURL(), "/"), domain)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.endpoint.Do(req)
	if err != nil {
		return info, err
	}
	var resp struct {
		Listed     bool     `json:"listed"`
		Sources    []string `json:"sources"`
		Categories []string `json:"categories"`
		Score      *int     `json:"score"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("bad blocklist response: %w", err)
	}
	info.Blacklisted = resp.Listed
	info.Sources = resp.Sources
	for _, cat := range resp.Categories {
		switch strings.ToLower(cat) {
		case "malware":
			info.Malware = true
		case "phishing":
			info.Phishing = true
		}
	}
	if resp.Score != nil {
		info.Score = *resp.Score
	} else if resp.Listed {
		info.Score = 0
	} else {
		info.Score = 100
	}
	return info, nil
}
