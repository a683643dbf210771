package internal

import (
	"encoding/json"
	"time"

	"github.com/veridom/veridom/connectors"
	"github.com/veridom/veridom/scoring"
)

// ScanRecord is the complete outcome of one domain scan: the verdict,
// the per-source sub-scores, and the raw connector payloads that
// produced them. Records are persisted whole so a verdict can be
// audited later without re-contacting any provider.
type ScanRecord struct {
	ID             string                                          `json:"id"`
	Identity       string                                          `json:"identity"`
	Raw            string                                          `json:"raw"`
	Score          int                                             `json:"score"`
	Classification scoring.Classification                          `json:"classification"`
	Breakdown      scoring.Breakdown                               `json:"breakdown"`
	Registration   connectors.Result[connectors.RegistrationInfo]  `json:"registration"`
	Network        connectors.Result[connectors.NetworkInfo]       `json:"network"`
	Reputation     connectors.Result[connectors.ReputationInfo]    `json:"reputation"`
	Threat         connectors.Result[connectors.ThreatInfo]        `json:"threat"`
	Transport      connectors.Result[connectors.TransportInfo]     `json:"transport"`
	Findings       []string                                        `json:"findings"`
	ScannedAt      time.Time                                       `json:"scanned_at"`
	DurationMs     float64                                         `json:"duration_ms"`
	Forced         bool                                            `json:"forced"`
	RequestedBy    string                                          `json:"requested_by,omitempty"`
}

// Age reports how long ago the scan completed.
func (r ScanRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.ScannedAt)
}

// Fresh reports whether the record is still inside the reuse window.
func (r ScanRecord) Fresh(now time.Time, window time.Duration) bool {
	if r.ScannedAt.IsZero() {
		return false
	}
	return r.Age(now) < window
}

func (r *ScanRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *ScanRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Report is operator feedback on a finished scan, kept alongside the
// record it disputes or confirms.
type Report struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Email     string    `json:"email"`
	Verdict   string    `json:"verdict"` // "false_positive", "confirmed_threat", "note"
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Report) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Report) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}
