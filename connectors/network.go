package connectors

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// NetworkConnector resolves the domain's DNS posture: addresses,
// nameservers, mail and TXT records, and whether DNSSEC material exists.
type NetworkConnector struct {
	chain *Chain[NetworkInfo]
}

type NetworkConfig struct {
	// Resolver is the upstream recursive resolver for the direct DNS
	// provider, host:port. Empty disables that provider.
	Resolver string `json:"resolver"`
	// SystemFallback keeps the stdlib resolver at the end of the chain.
	SystemFallback bool `json:"system_fallback"`
}

func NewNetworkConnector(cfg NetworkConfig, logger *log.Logger) *NetworkConnector {
	var providers []Provider[NetworkInfo]
	if cfg.Resolver != "" {
		providers = append(providers, &dnsProvider{resolver: cfg.Resolver, client: new(dns.Client)})
	}
	if cfg.SystemFallback {
		providers = append(providers, &systemResolverProvider{})
	}
	return &NetworkConnector{chain: NewChain("network", logger, providers...)}
}

func (c *NetworkConnector) Fetch(ctx context.Context, identity string) Result[NetworkInfo] {
	return c.chain.Run(ctx, identity)
}

// --- direct queries via miekg/dns ---

type dnsProvider struct {
	resolver string
	client   *dns.Client
}

func (p *dnsProvider) Name() string { return "dns-direct" }

func (p *dnsProvider) Fetch(ctx context.Context, domain string) (NetworkInfo, error) {
	var info NetworkInfo
	fqdn := dns.Fqdn(domain)

	answers, err := p.query(ctx, fqdn, dns.TypeA)
	if err != nil {
		return info, err
	}
	for _, rr := range answers {
		if a, ok := rr.(*dns.A); ok {
			info.Addresses = append(info.Addresses, a.A.String())
		}
	}
	if len(info.Addresses) == 0 {
		return info, fmt.Errorf("no A records for %s", domain)
	}

	if answers, err := p.query(ctx, fqdn, dns.TypeNS); err == nil {
		for _, rr := range answers {
			if ns, ok := rr.(*dns.NS); ok {
				info.Nameservers = append(info.Nameservers, strings.TrimSuffix(strings.ToLower(ns.Ns), "."))
			}
		}
	}
	if answers, err := p.query(ctx, fqdn, dns.TypeMX); err == nil {
		for _, rr := range answers {
			if mx, ok := rr.(*dns.MX); ok {
				info.MX = append(info.MX, strings.TrimSuffix(strings.ToLower(mx.Mx), "."))
			}
		}
	}
	if answers, err := p.query(ctx, fqdn, dns.TypeTXT); err == nil {
		for _, rr := range answers {
			if txt, ok := rr.(*dns.TXT); ok {
				info.TXT = append(info.TXT, strings.Join(txt.Txt, ""))
			}
		}
	}
	if answers, err := p.query(ctx, fqdn, dns.TypeDNSKEY); err == nil {
		info.DNSSEC = len(answers) > 0
	}

	info.ReverseDNS = make(map[string][]string)
	for i, addr := range info.Addresses {
		if i >= 2 {
			break // two PTR lookups tell us whether reverse DNS exists at all
		}
		if names := p.reverse(ctx, addr); len(names) > 0 {
			info.ReverseDNS[addr] = names
		}
	}
	return info, nil
}

func (p *dnsProvider) query(ctx context.Context, fqdn string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true
	r, _, err := p.client.ExchangeContext(ctx, m, p.resolver)
	if err != nil {
		return nil, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s/%d: rcode %s", fqdn, qtype, dns.RcodeToString[r.Rcode])
	}
	return r.Answer, nil
}

func (p *dnsProvider) reverse(ctx context.Context, addr string) []string {
	rev, err := dns.ReverseAddr(addr)
	if err != nil {
		return nil
	}
	answers, err := p.query(ctx, rev, dns.TypePTR)
	if err != nil {
		return nil
	}
	var names []string
	for _, rr := range answers {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, strings.TrimSuffix(strings.ToLower(ptr.Ptr), "."))
		}
	}
	return names
}

// --- stdlib resolver fallback ---

// systemResolverProvider leans on the OS resolver. It cannot see DNSKEY
// material, so its results are reported as partial.
type systemResolverProvider struct{}

func (p *systemResolverProvider) Name() string { return "dns-system" }

func (p *systemResolverProvider) Fetch(ctx context.Context, domain string) (NetworkInfo, error) {
	var info NetworkInfo
	var r net.Resolver

	addrs, err := r.LookupHost(ctx, domain)
	if err != nil {
		return info, err
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			info.Addresses = append(info.Addresses, a)
		}
	}
	if len(info.Addresses) == 0 {
		return info, fmt.Errorf("no IPv4 addresses for %s", domain)
	}

	if nss, err := r.LookupNS(ctx, domain); err == nil {
		for _, ns := range nss {
			info.Nameservers = append(info.Nameservers, strings.TrimSuffix(strings.ToLower(ns.Host), "."))
		}
	}
	if mxs, err := r.LookupMX(ctx, domain); err == nil {
		for _, mx := range mxs {
			info.MX = append(info.MX, strings.TrimSuffix(strings.ToLower(mx.Host), "."))
		}
	}
	if txts, err := r.LookupTXT(ctx, domain); err == nil {
		info.TXT = txts
	}

	info.ReverseDNS = make(map[string][]string)
	for i, addr := range info.Addresses {
		if i >= 2 {
			break
		}
		if names, err := r.LookupAddr(ctx, addr); err == nil && len(names) > 0 {
			for j, n := range names {
				names[j] = strings.TrimSuffix(strings.ToLower(n), ".")
			}
			info.ReverseDNS[addr] = names
		}
	}
	return info, fmt.Errorf("%w: system resolver cannot report DNSSEC", ErrPartial)
}
