package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestThreatConnectorListedDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/query/") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"listed":true,"sources":["surbl","spamhaus"],"categories":["phishing"],"score":5}`)
	}))
	defer srv.Close()

	c := NewThreatConnector(ThreatConfig{BlocklistURL: srv.URL, BlocklistKey: "k"}, nil, testLogger())
	res := c.Fetch(context.Background(), "evil.example")
	if res.Status != StatusOK {
		t.Fatalf("status = %s (%s); want ok", res.Status, res.Reason)
	}
	if !res.Data.Blacklisted || !res.Data.Phishing {
		t.Errorf("listed phishing domain not flagged: %+v", res.Data)
	}
	if res.Data.Score != 5 {
		t.Errorf("native score = %d; want 5", res.Data.Score)
	}
	if len(res.Data.Sources) != 2 {
		t.Errorf("sources = %v; want two", res.Data.Sources)
	}
}

func TestThreatConnectorCleanDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"listed":false,"sources":[],"categories":[]}`)
	}))
	defer srv.Close()

	c := NewThreatConnector(ThreatConfig{BlocklistURL: srv.URL}, nil, testLogger())
	res := c.Fetch(context.Background(), "example.com")
	if res.Status != StatusOK {
		t.Fatalf("status = %s; want ok", res.Status)
	}
	if res.Data.Blacklisted || res.Data.Score != 100 {
		t.Errorf("clean domain scored %+v", res.Data)
	}
}

func TestThreatConnectorPatternFallback(t *testing.T) {
	analyze := func(identity string) []string {
		return []string{"digit substitution pattern in domain label", "suspicious top-level domain"}
	}
	c := NewThreatConnector(ThreatConfig{}, analyze, testLogger())
	res := c.Fetch(context.Background(), "g00gle.tk")
	if res.Status != StatusDegraded {
		t.Fatalf("status = %s; want degraded", res.Status)
	}
	if res.Source != "pattern-fallback" {
		t.Errorf("source = %s; want pattern-fallback", res.Source)
	}
	if res.Data.Score != 70 {
		t.Errorf("fallback score = %d; want 70 (two findings)", res.Data.Score)
	}
}

func TestThreatConnectorNoAnalyzerStaysUnavailable(t *testing.T) {
	c := NewThreatConnector(ThreatConfig{}, nil, testLogger())
	res := c.Fetch(context.Background(), "example.com")
	if res.Status != StatusUnavailable {
		t.Errorf("status = %s; want unavailable without a pattern analyzer", res.Status)
	}
}

func TestSafeBrowsingProviderMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, `{"matches":[{"threatType":"SOCIAL_ENGINEERING"}]}`)
	}))
	defer srv.Close()

	p := &safeBrowsingProvider{endpoint: NewEndpoint(srv.URL, nil, false), key: "k"}
	info, err := p.Fetch(context.Background(), "phish.example")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !info.Phishing || !info.Blacklisted || info.Score != 0 {
		t.Errorf("social-engineering match not mapped: %+v", info)
	}
}
