package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestScanHandler(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{"domain":"Example.COM"}`))
	rr := httptest.NewRecorder()
	s.ScanHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var rec ScanRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if rec.Identity != "example.com" {
		t.Errorf("identity = %s; want example.com", rec.Identity)
	}
	if rec.Score != 65 {
		t.Errorf("score = %d; want 65", rec.Score)
	}
}

func TestScanHandlerRejectsMissingDomain(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	s.ScanHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rr.Code)
	}
}

func TestScanHandlerRejectsGarbageInput(t *testing.T) {
	s := setupTestServer()
	var calls atomic.Int32
	s.Sources = unavailableSources(&calls)

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{"domain":"   "}`))
	rr := httptest.NewRecorder()
	s.ScanHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rr.Code)
	}
	if calls.Load() != 0 {
		t.Errorf("sources called for unusable input: %d", calls.Load())
	}
}

func TestGetScanHandlerNotFound(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/result?id=missing", nil)
	rr := httptest.NewRecorder()
	s.GetScanHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", rr.Code)
	}
}

func TestGetScanHandlerRequiresSelector(t *testing.T) {
	s := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/result", nil)
	rr := httptest.NewRecorder()
	s.GetScanHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rr.Code)
	}
}

func TestReportHandler(t *testing.T) {
	s := setupTestServer()
	var saved Report
	reportCh := make(chan Report, 1)
	s.DB = &reportCapturingDB{MockDB: MockDB{}, ch: reportCh}

	body := `{"identity":"bad.example","verdict":"confirmed_threat","comment":"seen in a phishing run"}`
	req := httptest.NewRequest(http.MethodPost, "/report", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.ReportHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	select {
	case saved = <-reportCh:
	case <-time.After(time.Second):
		t.Fatal("report was never saved")
	}
	if saved.ID == "" {
		t.Error("report should get an ID assigned")
	}
	if saved.Identity != "bad.example" {
		t.Errorf("identity = %s", saved.Identity)
	}
}

func TestReportHandlerRejectsUnknownVerdict(t *testing.T) {
	s := setupTestServer()

	body := `{"identity":"bad.example","verdict":"sounds_fine"}`
	req := httptest.NewRequest(http.MethodPost, "/report", strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.ReportHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", rr.Code)
	}
}

func TestGetLogsHandlerInvertedRange(t *testing.T) {
	s := setupTestServer()
	for i := 0; i < 90; i++ {
		s.LogInfo("entry")
	}

	req := httptest.NewRequest(http.MethodGet, "/logs?start=80&end=70", nil)
	rr := httptest.NewRecorder()
	s.GetLogsHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var logs []LogItem
	if err := json.Unmarshal(rr.Body.Bytes(), &logs); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("inverted range returned %d entries; want 0", len(logs))
	}
}

type reportCapturingDB struct {
	MockDB
	ch chan Report
}

func (d *reportCapturingDB) SaveReport(r Report) error {
	d.ch <- r
	return nil
}
