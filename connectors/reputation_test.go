package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReputationConnectorResolvesThenChecks(t *testing.T) {
	var askedFor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		askedFor = r.URL.Query().Get("ipAddress")
		fmt.Fprint(w, `{"data":{"countryCode":"NL","isp":"Example Hosting BV","usageType":"Data Center/Web Hosting/Transit","isTor":false,"totalReports":3}}`)
	}))
	defer srv.Close()

	c := NewReputationConnector(ReputationConfig{AbuseURL: srv.URL, AbuseKey: "k"}, testLogger()).
		WithResolver(func(ctx context.Context, domain string) (string, error) {
			return "198.51.100.7", nil
		})
	c.reverse = func(ctx context.Context, ip string) ([]string, error) {
		return []string{"host.example.com."}, nil
	}

	res := c.Fetch(context.Background(), "example.com")
	if res.Status != StatusOK {
		t.Fatalf("status = %s (%s); want ok", res.Status, res.Reason)
	}
	if askedFor != "198.51.100.7" {
		t.Errorf("provider asked about %q; want the resolved address", askedFor)
	}
	if res.Data.IP != "198.51.100.7" {
		t.Errorf("result IP = %q", res.Data.IP)
	}
	if !res.Data.Hosting {
		t.Error("data-center usage type should set the hosting flag")
	}
	if res.Data.AbuseReports != 3 || res.Data.Country != "NL" {
		t.Errorf("abuse fields not mapped: %+v", res.Data)
	}
	if !res.Data.HasReverseDNS {
		t.Error("reverse lookup hit should set HasReverseDNS")
	}
}

func TestReputationConnectorUnresolvableDomain(t *testing.T) {
	c := NewReputationConnector(ReputationConfig{AbuseURL: "http://unused.invalid"}, testLogger()).
		WithResolver(func(ctx context.Context, domain string) (string, error) {
			return "", errors.New("NXDOMAIN")
		})
	res := c.Fetch(context.Background(), "does-not-exist.example")
	if res.Status != StatusUnavailable {
		t.Fatalf("status = %s; want unavailable", res.Status)
	}
	if !strings.Contains(res.Reason, "no address") {
		t.Errorf("reason %q should say there was no address to check", res.Reason)
	}
}

func TestGeoProviderIsAlwaysPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","countryCode":"DE","isp":"Example AG","org":"Example","proxy":true,"hosting":false}`)
	}))
	defer srv.Close()

	p := &geoProvider{endpoint: NewEndpoint(srv.URL, nil, false)}
	info, err := p.Fetch(context.Background(), "203.0.113.9")
	if !errors.Is(err, ErrPartial) {
		t.Fatalf("err = %v; want ErrPartial (geo data has no abuse history)", err)
	}
	if info.Country != "DE" || !info.Proxy {
		t.Errorf("partial data dropped: %+v", info)
	}
}

func TestGeoProviderFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"fail"}`)
	}))
	defer srv.Close()

	p := &geoProvider{endpoint: NewEndpoint(srv.URL, nil, false)}
	_, err := p.Fetch(context.Background(), "203.0.113.9")
	if err == nil || errors.Is(err, ErrPartial) {
		t.Errorf("err = %v; want a hard failure", err)
	}
}
