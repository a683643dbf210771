package internal

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veridom/veridom/connectors"
	"github.com/veridom/veridom/heuristics"
	"github.com/veridom/veridom/scoring"
	"github.com/veridom/veridom/views"
)

// MockDB satisfies the Database interface for testing
type MockDB struct {
	SaveScanFunc          func(rec ScanRecord) error
	GetScanByIdentityFunc func(identity string) (ScanRecord, error)
}

func (m *MockDB) SaveScan(rec ScanRecord) error {
	if m.SaveScanFunc != nil {
		return m.SaveScanFunc(rec)
	}
	return nil
}

func (m *MockDB) GetScanByIdentity(identity string) (ScanRecord, error) {
	if m.GetScanByIdentityFunc != nil {
		return m.GetScanByIdentityFunc(identity)
	}
	return ScanRecord{}, ErrNotFound
}

// Stubs for other interface methods
func (m *MockDB) GetScan(id string) (ScanRecord, error)              { return ScanRecord{}, ErrNotFound }
func (m *MockDB) ListRecentScans(limit, offset int) ([]ScanRecord, error) { return nil, nil }
func (m *MockDB) DeleteScan(id string) error                         { return nil }
func (m *MockDB) CleanScans(maxAge time.Duration) error              { return nil }
func (m *MockDB) SaveReport(r Report) error                          { return nil }
func (m *MockDB) GetReports(identity string) ([]Report, error)       { return nil, nil }
func (m *MockDB) GetUserByEmail(email string) (User, error)          { return User{}, nil }
func (m *MockDB) AddUser(u User) error                               { return nil }
func (m *MockDB) DeleteUser(email string) error                      { return nil }
func (m *MockDB) GetAllUsers() ([]User, error)                       { return nil, nil }
func (m *MockDB) GetTokenByValue(tk string) (Token, error)           { return Token{}, nil }
func (m *MockDB) SaveToken(t Token) error                            { return nil }
func (m *MockDB) TestAndReconnect() error                            { return nil }
func (m *MockDB) Backup(w io.Writer) error                           { return nil }
func (m *MockDB) Restore(filePath string) error                      { return nil }

// unavailableSources counts calls so tests can assert the fan-out
// happened (or didn't).
func unavailableSources(calls *atomic.Int32) Sources {
	return Sources{
		Registration: func(ctx context.Context, identity string) connectors.Result[connectors.RegistrationInfo] {
			calls.Add(1)
			return connectors.Unavailable[connectors.RegistrationInfo]("stubbed out")
		},
		Network: func(ctx context.Context, identity string) connectors.Result[connectors.NetworkInfo] {
			calls.Add(1)
			return connectors.Unavailable[connectors.NetworkInfo]("stubbed out")
		},
		Reputation: func(ctx context.Context, identity string) connectors.Result[connectors.ReputationInfo] {
			calls.Add(1)
			return connectors.Unavailable[connectors.ReputationInfo]("stubbed out")
		},
		Threat: func(ctx context.Context, identity string) connectors.Result[connectors.ThreatInfo] {
			calls.Add(1)
			return connectors.Unavailable[connectors.ThreatInfo]("stubbed out")
		},
		Transport: func(ctx context.Context, identity string) connectors.Result[connectors.TransportInfo] {
			calls.Add(1)
			return connectors.Unavailable[connectors.TransportInfo]("stubbed out")
		},
	}
}

func setupTestServer() *Server {
	s := &Server{
		ID:       "test-server",
		ScanCh:   make(chan ScanRecord, 10),
		Memory:   &sync.RWMutex{},
		Analyzer: heuristics.NewAnalyzer(heuristics.Lists{}),
		Cache: &Cache{
			Scans:       make(map[string]ScanRecord),
			Coordinates: make(map[string][]Coord),
			Charts:      []byte(views.NoDataView),
			Freshness:   time.Hour,
		},
		Details: Details{
			Stats: make(map[string]float64),
		},
		Log: log.New(io.Discard, "", 0),
		DB:  &MockDB{},
		Hub: NewHub(),
	}
	s.Gauges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "test_scan_results"},
		[]string{"classification"},
	)
	s.ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_scan_duration_ms"},
		[]string{"status"},
	)
	return s
}

func TestScanAllSourcesUnavailable(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	rec, err := s.Scan(context.Background(), "example.com", false, "tester@example.com")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("expected all 5 sources to be called, got %d", calls.Load())
	}
	if rec.Score != 65 {
		t.Errorf("neutral score mismatch: got %d, want 65", rec.Score)
	}
	if rec.Classification != scoring.Suspicious {
		t.Errorf("expected suspicious, got %s", rec.Classification)
	}
	if rec.Identity != "example.com" {
		t.Errorf("identity mismatch: %s", rec.Identity)
	}

	select {
	case queued := <-s.ScanCh:
		if queued.ID != rec.ID {
			t.Errorf("queued record ID mismatch: %s vs %s", queued.ID, rec.ID)
		}
	default:
		t.Error("scan record was not queued for persistence")
	}
}

func TestScanRejectsInvalidInput(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	_, err := s.Scan(context.Background(), "not a domain", false, "")
	if err == nil {
		t.Fatal("expected error for invalid input")
	}
	if calls.Load() != 0 {
		t.Errorf("sources should not be called for invalid input, got %d calls", calls.Load())
	}
	s.Memory.RLock()
	rejected := s.Details.Stats["scan_rejected"]
	s.Memory.RUnlock()
	if rejected != 1 {
		t.Errorf("scan_rejected stat not incremented: %v", rejected)
	}
}

func TestScanUsesFreshCache(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	cached := ScanRecord{
		ID:             "cached-id",
		Identity:       "example.com",
		Score:          88,
		Classification: scoring.Safe,
		ScannedAt:      time.Now().Add(-5 * time.Minute),
	}
	s.Cache.Scans["example.com"] = cached

	rec, err := s.Scan(context.Background(), "https://example.com/path", false, "")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if rec.ID != "cached-id" {
		t.Errorf("expected cached record, got %s", rec.ID)
	}
	if calls.Load() != 0 {
		t.Errorf("cache hit should not trigger sources, got %d calls", calls.Load())
	}
}

func TestScanStaleCacheTriggersRefetch(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	s.Cache.Scans["example.com"] = ScanRecord{
		ID:        "stale-id",
		Identity:  "example.com",
		ScannedAt: time.Now().Add(-2 * time.Hour),
	}

	rec, err := s.Scan(context.Background(), "example.com", false, "")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if rec.ID == "stale-id" {
		t.Error("stale cache entry was served")
	}
	if calls.Load() != 5 {
		t.Errorf("expected full fan-out after stale cache, got %d calls", calls.Load())
	}
}

func TestScanForceBypassesCache(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	s.Cache.Scans["example.com"] = ScanRecord{
		ID:        "cached-id",
		Identity:  "example.com",
		ScannedAt: time.Now(),
	}

	rec, err := s.Scan(context.Background(), "example.com", true, "")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if rec.ID == "cached-id" {
		t.Error("force scan served the cached record")
	}
	if !rec.Forced {
		t.Error("record should be marked as forced")
	}
	if calls.Load() != 5 {
		t.Errorf("expected full fan-out on force, got %d calls", calls.Load())
	}
}

func TestScanDatabaseCacheRewarmsMemory(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	fromDB := ScanRecord{
		ID:             "db-id",
		Identity:       "example.com",
		Score:          90,
		Classification: scoring.Safe,
		ScannedAt:      time.Now().Add(-10 * time.Minute),
	}
	s.DB = &MockDB{
		GetScanByIdentityFunc: func(identity string) (ScanRecord, error) {
			if identity != "example.com" {
				return ScanRecord{}, ErrNotFound
			}
			return fromDB, nil
		},
	}

	rec, err := s.Scan(context.Background(), "example.com", false, "")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if rec.ID != "db-id" {
		t.Errorf("expected the persisted record, got %s", rec.ID)
	}
	if calls.Load() != 0 {
		t.Errorf("database hit should not trigger sources, got %d calls", calls.Load())
	}
	s.Memory.RLock()
	_, warmed := s.Cache.Scans["example.com"]
	s.Memory.RUnlock()
	if !warmed {
		t.Error("database hit did not re-warm the memory cache")
	}
}

func TestScanSelfDomainOverride(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)
	s.Details.SelfDomains = []string{"veridom.io"}

	rec, err := s.Scan(context.Background(), "app.veridom.io", false, "")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if rec.Score != 100 || rec.Classification != scoring.Safe {
		t.Errorf("self domain should be a fixed clean verdict, got %d %s", rec.Score, rec.Classification)
	}
	if rec.Registration.Source != "self" {
		t.Errorf("expected self source, got %s", rec.Registration.Source)
	}
	if calls.Load() != 0 {
		t.Errorf("self domain should not trigger sources, got %d calls", calls.Load())
	}
}

func TestScanCanceledContextDiscardsResult(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx, "example.com", false, "")
	if err == nil {
		t.Fatal("expected error for a canceled scan")
	}

	select {
	case rec := <-s.ScanCh:
		t.Errorf("canceled scan was queued for persistence: id=%s score=%d", rec.ID, rec.Score)
	default:
	}

	s.Memory.RLock()
	_, cached := s.Cache.Scans["example.com"]
	abandoned := s.Details.Stats["scans_abandoned"]
	s.Memory.RUnlock()
	if cached {
		t.Error("canceled scan was cached")
	}
	if abandoned != 1 {
		t.Errorf("scans_abandoned stat mismatch: %v", abandoned)
	}
}

func TestUpdateChartsBoundsCoordinateSeries(t *testing.T) {
	s := setupTestServer()
	s.Details.Stats["scans_completed"] = 1

	for i := 0; i < 105; i++ {
		s.UpdateCharts()
	}

	s.Memory.RLock()
	defer s.Memory.RUnlock()
	for name, series := range s.Cache.Coordinates {
		if len(series) > 100 {
			t.Errorf("series %s grew to %d points", name, len(series))
		}
	}
}

func TestProcessScanResults_Integration(t *testing.T) {
	s := setupTestServer()

	saved := make(chan ScanRecord, 1)
	s.DB = &MockDB{
		SaveScanFunc: func(rec ScanRecord) error {
			saved <- rec
			return nil
		},
	}

	go s.ProcessScanResults()

	rec := ScanRecord{
		ID:             "integration-id",
		Identity:       "example.com",
		Score:          35,
		Classification: scoring.Dangerous,
		ScannedAt:      time.Now(),
	}
	s.ScanCh <- rec

	select {
	case got := <-saved:
		if got.ID != rec.ID {
			t.Errorf("persisted record ID mismatch: %s", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("record was never persisted")
	}

	time.Sleep(20 * time.Millisecond)

	s.Memory.RLock()
	cached, ok := s.Cache.Scans["example.com"]
	completed := s.Details.Stats["scans_completed"]
	dangerous := s.Details.Stats[string(scoring.Dangerous)]
	s.Memory.RUnlock()

	if !ok || cached.ID != rec.ID {
		t.Error("record was not added to the memory cache")
	}
	if completed != 1 {
		t.Errorf("scans_completed stat mismatch: %v", completed)
	}
	if dangerous != 1 {
		t.Errorf("classification stat mismatch: %v", dangerous)
	}
}
