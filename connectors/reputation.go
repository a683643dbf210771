package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
)

// ResolveFunc turns a domain into the address the reputation providers
// are asked about. The connector owns this dependency so the fan-out
// stays free of inter-connector ordering.
type ResolveFunc func(ctx context.Context, domain string) (string, error)

// ReputationConnector reports where the domain's address lives and how
// noisy it has been: geolocation, hosting flags, abuse volume.
type ReputationConnector struct {
	chain   *Chain[ReputationInfo]
	resolve ResolveFunc
	reverse func(ctx context.Context, ip string) ([]string, error)
}

type ReputationConfig struct {
	AbuseURL string `json:"abuse_url"`
	AbuseKey string `json:"abuse_key"`
	GeoURL   string `json:"geo_url"`
}

func NewReputationConnector(cfg ReputationConfig, logger *log.Logger) *ReputationConnector {
	var providers []Provider[ReputationInfo]
	if cfg.AbuseURL != "" {
		providers = append(providers, &abuseProvider{endpoint: NewEndpoint(cfg.AbuseURL, &XAPIKeyAuth{Token: cfg.AbuseKey}, false)})
	}
	if cfg.GeoURL != "" {
		providers = append(providers, &geoProvider{endpoint: NewEndpoint(cfg.GeoURL, nil, false)})
	}
	var r net.Resolver
	return &ReputationConnector{
		chain: NewChain("reputation", logger, providers...),
		resolve: func(ctx context.Context, domain string) (string, error) {
			addrs, err := r.LookupHost(ctx, domain)
			if err != nil {
				return "", err
			}
			for _, a := range addrs {
				if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
					return a, nil
				}
			}
			return "", fmt.Errorf("no IPv4 address for %s", domain)
		},
		reverse: func(ctx context.Context, ip string) ([]string, error) {
			return r.LookupAddr(ctx, ip)
		},
	}
}

// WithResolver swaps the address resolution dependency; tests use this
// to keep the connector off the network.
func (c *ReputationConnector) WithResolver(fn ResolveFunc) *ReputationConnector {
	c.resolve = fn
	return c
}

func (c *ReputationConnector) Fetch(ctx context.Context, identity string) Result[ReputationInfo] {
	ip, err := c.resolve(ctx, identity)
	if err != nil {
		return Unavailable[ReputationInfo](fmt.Sprintf("reputation: no address to check: %v", err))
	}
	res := c.chain.Run(ctx, ip)
	if !res.Available() {
		return res
	}
	res.Data.IP = ip
	if c.reverse != nil {
		if names, err := c.reverse(ctx, ip); err == nil && len(names) > 0 {
			res.Data.HasReverseDNS = true
		}
	}
	return res
}

// --- abuse database provider (AbuseIPDB-style check endpoint) ---

type abuseProvider struct {
	endpoint *Endpoint
}

func (p *abuseProvider) Name() string { return "abusedb" }

func (p *abuseProvider) Fetch(ctx context.Context, ip string) (ReputationInfo, error) {
	var info ReputationInfo
	url := fmt.Sprintf("%s?ipAddress=%s&maxAgeInDays=90", p.endpoint.GetURL(), ip)
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
		Data struct {
			CountryCode  string `json:"countryCode"`
			ISP          string `json:"isp"`
			UsageType    string `json:"usageType"`
			IsTor        bool   `json:"isTor"`
			TotalReports int    `json:"totalReports"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("bad abuse response: %w", err)
	}
	info.Country = resp.Data.CountryCode
	info.ISP = resp.Data.ISP
	info.Tor = resp.Data.IsTor
	info.AbuseReports = resp.Data.TotalReports
	usage := strings.ToLower(resp.Data.UsageType)
	info.Hosting = strings.Contains(usage, "hosting") || strings.Contains(usage, "data center")
	return info, nil
}

// --- geolocation provider (ip-api-style, no abuse data) ---

type geoProvider struct {
	endpoint *Endpoint
}

func (p *geoProvider) Name() string { return "geo" }

func (p *geoProvider) Fetch(ctx context.Context, ip string) (ReputationInfo, error) {
	var info ReputationInfo
	url := fmt.Sprintf("%s/%s?fields=countryCode,isp,org,proxy,hosting,status", strings.TrimSuffix(p.endpoint.GetURL(), "/"), ip)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return info, err
	}
	body, err := p.endpoint.Do(req)
	if err != nil {
		return info, err
	}
	var resp struct {
		Status      string `json:"status"`
		CountryCode string `json:"countryCode"`
		ISP         string `json:"isp"`
		Org         string `json:"org"`
		Proxy       bool   `json:"proxy"`
		Hosting     bool   `json:"hosting"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("bad geo response: %w", err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return info, fmt.Errorf("geo lookup failed for %s", ip)
	}
	info.Country = resp.CountryCode
	info.ISP = resp.ISP
	info.Org = resp.Org
	info.Proxy = resp.Proxy
	info.Hosting = resp.Hosting
	// Geo data alone says nothing about abuse history. Never synthesize
	// it; report the gap instead.
	return info, fmt.Errorf("%w: geo provider carries no abuse history", ErrPartial)
}
