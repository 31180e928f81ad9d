// Package ledger submits fix summaries to an external append-only audit
// service. The service is consumed as an opaque write-once HTTP API;
// recording is strictly best-effort and the healing loop logs and drops any
// error returned from here.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
)

// String caps applied before submission, in bytes.
const (
	maxMessageLen     = 500
	maxDescriptionLen = 500
	maxPathLen        = 260
)

// Record is one fix summary.
type Record struct {
	SessionID        string           `json:"session_id"`
	BugCategory      healing.Category `json:"bug_category"`
	FilePath         string           `json:"file_path"`
	Line             int              `json:"line"`
	ErrorMessage     string           `json:"error_message"`
	FixDescription   string           `json:"fix_description"`
	TestBeforePassed bool             `json:"test_before_passed"`
	TestAfterPassed  bool             `json:"test_after_passed"`
	CommitSHA        string           `json:"commit_sha,omitempty"`
}

// Receipt acknowledges a stored record.
type Receipt struct {
	RecordID  string
	Reference string
}

// Recorder submits fix records to the audit ledger.
type Recorder interface {
	Record(ctx context.Context, rec Record) (*Receipt, error)
}

// New returns the recorder selected by configuration: the HTTP recorder when
// the ledger is enabled, otherwise a no-op.
func New(cfg config.LedgerConfig) Recorder {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return NopRecorder{}
	}
	return NewHTTPRecorder(cfg)
}

// NopRecorder drops every record. Used when the ledger is disabled.
type NopRecorder struct{}

// Record discards the record and reports success.
func (NopRecorder) Record(context.Context, Record) (*Receipt, error) {
	return &Receipt{}, nil
}

// recordResponse is the ledger service's acknowledgment shape.
type recordResponse struct {
	Success   bool   `json:"success"`
	RecordID  string `json:"record_id"`
	Reference string `json:"reference"`
}

// HTTPRecorder POSTs records to the configured endpoint with a bearer token.
type HTTPRecorder struct {
	endpoint   string
	token      config.Secret
	httpClient *http.Client
}

// NewHTTPRecorder creates a recorder for the configured endpoint.
func NewHTTPRecorder(cfg config.LedgerConfig) *HTTPRecorder {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRecorder{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Record submits one record, truncating unbounded string fields first. Any
// transport, status, or service-level failure is returned as an error.
func (h *HTTPRecorder) Record(ctx context.Context, rec Record) (*Receipt, error) {
	rec.ErrorMessage = truncate(rec.ErrorMessage, maxMessageLen)
	rec.FixDescription = truncate(rec.FixDescription, maxDescriptionLen)
	rec.FilePath = truncate(rec.FilePath, maxPathLen)

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", h.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token.IsSet() {
		httpReq.Header.Set("Authorization", "Bearer "+h.token.Value())
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ledger rejected record (%d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var ack recordResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("failed to parse ledger response: %w", err)
	}
	if !ack.Success {
		return nil, fmt.Errorf("ledger reported failure for session %s", rec.SessionID)
	}

	return &Receipt{RecordID: ack.RecordID, Reference: ack.Reference}, nil
}

// truncate caps s at max bytes without splitting a multibyte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
