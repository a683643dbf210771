package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridom/veridom/connectors"
	"github.com/veridom/veridom/heuristics"
	"github.com/veridom/veridom/scoring"
)

// ScanTimeout bounds the whole fan-out. Each source chain carries its
// own shorter timeout, so one dead provider cannot eat the budget.
const ScanTimeout = 15 * time.Second

// Scan runs the full pipeline for one domain: normalize, check the
// cache, fan out to the five sources, score, and hand the record to the
// background processor for persistence and notification. force skips
// the cache on the way in but the result is still cached on the way
// out.
func (s *Server) Scan(ctx context.Context, raw string, force bool, email string) (ScanRecord, error) {
	identity, err := heuristics.Normalize(raw)
	if err != nil {
		s.addStat("scan_rejected", 1)
		return ScanRecord{}, fmt.Errorf("invalid domain %q: %w", raw, err)
	}

	if rec, ok := s.selfDomainOverride(identity, raw, email); ok {
		return rec, nil
	}

	if !force {
		if rec, ok := s.cachedScan(identity); ok {
			s.addStat("scan_cache_hits", 1)
			s.ScanDuration.WithLabelValues("cached").Observe(0)
			return rec, nil
		}
	}

	start := time.Now()
	caller := ctx
	ctx, cancel := context.WithTimeout(ctx, ScanTimeout)
	defer cancel()

	var (
		wg           sync.WaitGroup
		registration connectors.Result[connectors.RegistrationInfo]
		network      connectors.Result[connectors.NetworkInfo]
		reputation   connectors.Result[connectors.ReputationInfo]
		threat       connectors.Result[connectors.ThreatInfo]
		transport    connectors.Result[connectors.TransportInfo]
		findings     []string
	)
	wg.Add(6)
	go func() { defer wg.Done(); registration = s.Sources.Registration(ctx, identity) }()
	go func() { defer wg.Done(); network = s.Sources.Network(ctx, identity) }()
	go func() { defer wg.Done(); reputation = s.Sources.Reputation(ctx, identity) }()
	go func() { defer wg.Done(); threat = s.Sources.Threat(ctx, identity) }()
	go func() { defer wg.Done(); transport = s.Sources.Transport(ctx, identity) }()
	go func() { defer wg.Done(); findings = s.Analyzer.Analyze(identity) }()
	wg.Wait()

	// A caller that went away mid-scan gets nothing cached on its
	// behalf: the sources bailed early, so the results describe the
	// cancellation, not the domain.
	if err := caller.Err(); err != nil {
		s.addStat("scans_abandoned", 1)
		return ScanRecord{}, fmt.Errorf("scan of %s abandoned: %w", identity, err)
	}

	now := time.Now()
	score, class, breakdown := scoring.Score(
		registration, network, reputation, threat, identity, s.Details.Lists, now)

	rec := ScanRecord{
		ID:             uuid.New().String(),
		Identity:       identity,
		Raw:            raw,
		Score:          score,
		Classification: class,
		Breakdown:      breakdown,
		Registration:   registration,
		Network:        network,
		Reputation:     reputation,
		Threat:         threat,
		Transport:      transport,
		Findings:       findings,
		ScannedAt:      now,
		DurationMs:     float64(now.Sub(start).Microseconds()) / 1000,
		Forced:         force,
		RequestedBy:    email,
	}

	s.ScanCh <- rec
	s.addStat("scans_started", 1)
	s.ScanDuration.WithLabelValues("full").Observe(rec.DurationMs)
	return rec, nil
}

// cachedScan serves a repeat request from the hot cache or, failing
// that, the database, as long as the record is still fresh.
func (s *Server) cachedScan(identity string) (ScanRecord, bool) {
	now := time.Now()
	s.Memory.RLock()
	rec, ok := s.Cache.Scans[identity]
	window := s.Cache.Freshness
	s.Memory.RUnlock()
	if ok && rec.Fresh(now, window) {
		return rec, true
	}

	rec, err := s.DB.GetScanByIdentity(identity)
	if err != nil {
		return ScanRecord{}, false
	}
	if !rec.Fresh(now, window) {
		return ScanRecord{}, false
	}
	s.Memory.Lock()
	s.Cache.Scans[identity] = rec
	s.Memory.Unlock()
	return rec, true
}

// selfDomainOverride short-circuits scans of the operator's own
// domains. Scanning ourselves through third-party providers produces
// noise, not signal, so these identities get a fixed clean verdict.
func (s *Server) selfDomainOverride(identity, raw, email string) (ScanRecord, bool) {
	matched := false
	for _, d := range s.Details.SelfDomains {
		d = strings.ToLower(d)
		if identity == d || strings.HasSuffix(identity, "."+d) {
			matched = true
			break
		}
	}
	if !matched {
		return ScanRecord{}, false
	}
	s.addStat("self_domain_scans", 1)
	return ScanRecord{
		ID:             uuid.New().String(),
		Identity:       identity,
		Raw:            raw,
		Score:          100,
		Classification: scoring.Safe,
		Breakdown: scoring.Breakdown{
			Registration: 100, Network: 100, Reputation: 100, Threat: 100,
		},
		Registration: connectors.OK("self", connectors.RegistrationInfo{}),
		Network:      connectors.OK("self", connectors.NetworkInfo{}),
		Reputation:   connectors.OK("self", connectors.ReputationInfo{}),
		Threat:       connectors.OK("self", connectors.ThreatInfo{Score: 100}),
		Transport:    connectors.OK("self", connectors.TransportInfo{}),
		ScannedAt:    time.Now(),
		RequestedBy:  email,
	}, true
}
