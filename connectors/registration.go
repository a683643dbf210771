package connectors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RegistrationConnector answers "who registered this domain, and when"
// through a chain of RDAP and WHOIS providers.
type RegistrationConnector struct {
	chain *Chain[RegistrationInfo]
}

// RegistrationConfig names the providers of the registration chain in
// their fallback order. Empty URLs drop that provider from the chain.
type RegistrationConfig struct {
	PrimaryRDAP   string `json:"primary_rdap"`
	SecondaryRDAP string `json:"secondary_rdap"`
	BootstrapURL  string `json:"bootstrap_url"`
	WhoisAPIURL   string `json:"whois_api_url"`
	WhoisAPIKey   string `json:"whois_api_key"`
	WhoisFallback bool   `json:"whois_fallback"`
}

func NewRegistrationConnector(cfg RegistrationConfig, logger *log.Logger) *RegistrationConnector {
	var providers []Provider[RegistrationInfo]
	if cfg.PrimaryRDAP != "" {
		providers = append(providers, &rdapProvider{name: "rdap-primary", endpoint: NewEndpoint(cfg.PrimaryRDAP, nil, false)})
	}
	if cfg.SecondaryRDAP != "" {
		providers = append(providers, &rdapProvider{name: "rdap-secondary", endpoint: NewEndpoint(cfg.SecondaryRDAP, nil, false)})
	}
	if cfg.BootstrapURL != "" {
		providers = append(providers, newBootstrapRDAPProvider(cfg.BootstrapURL))
	}
	if cfg.WhoisAPIURL != "" {
		providers = append(providers, &whoisAPIProvider{endpoint: NewEndpoint(cfg.WhoisAPIURL, &XAPIKeyAuth{Token: cfg.WhoisAPIKey}, false)})
	}
	if cfg.WhoisFallback {
		providers = append(providers, &whoisProtocolProvider{})
	}
	return &RegistrationConnector{chain: NewChain("registration", logger, providers...)}
}

func (c *RegistrationConnector) Fetch(ctx context.Context, identity string) Result[RegistrationInfo] {
	return c.chain.Run(ctx, identity)
}

// --- RDAP over HTTP ---

type rdapResponse struct {
	Events []struct {
		EventAction string `json:"eventAction"`
		EventDate   string `json:"eventDate"`
	} `json:"events"`
	Nameservers []struct {
		LDHName string `json:"ldhName"`
	} `json:"nameservers"`
	Entities []rdapEntity `json:"entities"`
}

type rdapEntity struct {
	Roles      []string        `json:"roles"`
	VcardArray json.RawMessage `json:"vcardArray"`
	Entities   []rdapEntity    `json:"entities"`
}

type rdapProvider struct {
	name     string
	endpoint *Endpoint
}

func (p *rdapProvider) Name() string { return p.name }

func (p *rdapProvider) Fetch(ctx context.Context, domain string) (RegistrationInfo, error) {
	return fetchRDAP(ctx, p.endpoint, domain)
}

func fetchRDAP(ctx context.Context, ep *Endpoint, domain string) (RegistrationInfo, error) {
	var info RegistrationInfo
	url := fmt.Sprintf("%s/domain/%s", strings.TrimSuffix(ep.GetURL(), "/"), domain)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Accept", "application/rdap+json")
	body, err := ep.Do(req)
	if err != nil {
		return info, err
	}
	var rr rdapResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return info, fmt.Errorf("bad rdap response: %w", err)
	}
	for _, ev := range rr.Events {
		t, err := time.Parse(time.RFC3339, ev.EventDate)
		if err != nil {
			continue
		}
		switch ev.EventAction {
		case "registration":
			info.CreatedAt = t
		case "expiration":
			info.ExpiresAt = t
		}
	}
	for _, ns := range rr.Nameservers {
		info.Nameservers = append(info.Nameservers, strings.ToLower(ns.LDHName))
	}
	walkRDAPEntities(rr.Entities, &info)
	if info.CreatedAt.IsZero() && info.Registrar == "" && len(info.Nameservers) == 0 {
		return info, fmt.Errorf("rdap response held no usable fields")
	}
	return info, nil
}

func walkRDAPEntities(entities []rdapEntity, info *RegistrationInfo) {
	for _, e := range entities {
		fn, org, cc := parseVcard(e.VcardArray)
		for _, role := range e.Roles {
			switch role {
			case "registrar":
				if info.Registrar == "" {
					info.Registrar = fn
				}
			case "registrant":
				if info.RegistrantOrg == "" {
					if org != "" {
						info.RegistrantOrg = org
					} else {
						info.RegistrantOrg = fn
					}
				}
				if info.RegistrantCountry == "" {
					info.RegistrantCountry = cc
				}
			}
		}
		walkRDAPEntities(e.Entities, info)
	}
}

// parseVcard pulls fn, org and the adr country code out of a jCard. The
// format is a nested array salad; anything malformed is skipped.
func parseVcard(raw json.RawMessage) (fn, org, cc string) {
	if len(raw) == 0 {
		return
	}
	var card []json.RawMessage
	if err := json.Unmarshal(raw, &card); err != nil || len(card) < 2 {
		return
	}
	var props [][]json.RawMessage
	if err := json.Unmarshal(card[1], &props); err != nil {
		return
	}
	for _, prop := range props {
		if len(prop) < 4 {
			continue
		}
		var name string
		if err := json.Unmarshal(prop[0], &name); err != nil {
			continue
		}
		switch name {
		case "fn":
			json.Unmarshal(prop[3], &fn)
		case "org":
			json.Unmarshal(prop[3], &org)
		case "adr":
			var params map[string]json.RawMessage
			if err := json.Unmarshal(prop[1], &params); err == nil {
				if v, ok := params["cc"]; ok {
					json.Unmarshal(v, &cc)
				}
			}
			if cc == "" {
				var parts []string
				if err := json.Unmarshal(prop[3], &parts); err == nil && len(parts) == 7 {
					cc = parts[6]
				}
			}
		}
	}
	return
}

// --- IANA-bootstrap-routed RDAP ---

type bootstrapRDAPProvider struct {
	endpoint *Endpoint

	mu       sync.Mutex
	services map[string]string // tld -> rdap base url
	loaded   time.Time
}

func newBootstrapRDAPProvider(url string) *bootstrapRDAPProvider {
	return &bootstrapRDAPProvider{endpoint: NewEndpoint(url, nil, false)}
}

func (p *bootstrapRDAPProvider) Name() string { return "rdap-bootstrap" }

func (p *bootstrapRDAPProvider) Fetch(ctx context.Context, domain string) (RegistrationInfo, error) {
	var info RegistrationInfo
	tld := domain
	if i := strings.LastIndex(domain, "."); i != -1 {
		tld = domain[i+1:]
	}
	base, err := p.baseFor(ctx, tld)
	if err != nil {
		return info, err
	}
	return fetchRDAP(ctx, NewEndpoint(base, nil, false), domain)
}

func (p *bootstrapRDAPProvider) baseFor(ctx context.Context, tld string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// The registry file barely changes; a day of reuse is plenty.
	if p.services != nil && time.Since(p.loaded) < 24*time.Hour {
		if base, ok := p.services[tld]; ok {
			return base, nil
		}
		return "", fmt.Errorf("no rdap service registered for tld %q", tld)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", p.endpoint.GetURL(), nil)
	if err != nil {
		return "", err
	}
	body, err := p.endpoint.Do(req)
	if err != nil {
		return "", err
	}
	var reg struct {
		Services [][2][]string `json:"services"`
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return "", fmt.Errorf("bad bootstrap registry: %w", err)
	}
	p.services = make(map[string]string)
	for _, svc := range reg.Services {
		if len(svc[1]) == 0 {
			continue
		}
		for _, t := range svc[0] {
			p.services[strings.ToLower(t)] = strings.TrimSuffix(svc[1][0], "/")
		}
	}
	p.loaded = time.Now()
	if base, ok := p.services[tld]; ok {
		return base, nil
	}
	return "", fmt.Errorf("no rdap service registered for tld %q", tld)
}

// --- commercial WHOIS JSON API ---

type whoisAPIProvider struct {
	endpoint *Endpoint
}

func (p *whoisAPIProvider) Name() string { return "whois-api" }

func (p *whoisAPIProvider) Fetch(ctx context.Context, domain string) (RegistrationInfo, error) {
	var info RegistrationInfo
	url := fmt.Sprintf("%s?domain=%s", p.endpoint.GetURL(), domain)
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
		Registrar         string   `json:"registrar"`
		CreationDate      string   `json:"creation_date"`
		ExpirationDate    string   `json:"expiration_date"`
		RegistrantCountry string   `json:"registrant_country"`
		RegistrantOrg     string   `json:"registrant_org"`
		Nameservers       []string `json:"nameservers"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return info, fmt.Errorf("bad whois api response: %w", err)
	}
	info.Registrar = resp.Registrar
	info.CreatedAt = parseWhoisDate(resp.CreationDate)
	info.ExpiresAt = parseWhoisDate(resp.ExpirationDate)
	info.RegistrantCountry = resp.RegistrantCountry
	info.RegistrantOrg = resp.RegistrantOrg
	for _, ns := range resp.Nameservers {
		info.Nameservers = append(info.Nameservers, strings.ToLower(ns))
	}
	if info.CreatedAt.IsZero() && info.Registrar == "" {
		return info, fmt.Errorf("whois api response held no usable fields")
	}
	return info, nil
}

// --- local port-43 WHOIS client, the chain's last resort ---

var whoisServers = map[string]string{
	"com": "whois.verisign-grs.com",
	"net": "whois.verisign-grs.com",
	"org": "whois.pir.org",
	"io":  "whois.nic.io",
	"co":  "whois.nic.co",
	"dev": "whois.nic.google",
	"app": "whois.nic.google",
}

const whoisFallbackServer = "whois.iana.org"

type whoisProtocolProvider struct{}

func (p *whoisProtocolProvider) Name() string { return "whois-proto" }

func (p *whoisProtocolProvider) Fetch(ctx context.Context, domain string) (RegistrationInfo, error) {
	var info RegistrationInfo
	server := whoisFallbackServer
	if i := strings.LastIndex(domain, "."); i != -1 {
		if s, ok := whoisServers[domain[i+1:]]; ok {
			server = s
		}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", server+":43")
	if err != nil {
		return info, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return info, err
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "registrar":
			if info.Registrar == "" {
				info.Registrar = value
			}
		case "creation date", "created", "registered on":
			if info.CreatedAt.IsZero() {
				info.CreatedAt = parseWhoisDate(value)
			}
		case "registry expiry date", "expiry date", "expiration date":
			if info.ExpiresAt.IsZero() {
				info.ExpiresAt = parseWhoisDate(value)
			}
		case "registrant country":
			if info.RegistrantCountry == "" {
				info.RegistrantCountry = value
			}
		case "registrant organization", "registrant organisation":
			if info.RegistrantOrg == "" {
				info.RegistrantOrg = value
			}
		case "name server", "nserver":
			info.Nameservers = append(info.Nameservers, strings.ToLower(strings.Fields(value)[0]))
		}
	}
	if err := scanner.Err(); err != nil {
		return info, err
	}
	if info.CreatedAt.IsZero() && info.Registrar == "" && len(info.Nameservers) == 0 {
		return info, fmt.Errorf("whois held no usable fields for %s", domain)
	}
	return info, nil
}

func parseWhoisDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02 15:04:05", "2006-01-02", "02-Jan-2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
