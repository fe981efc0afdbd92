// Package backend implements the HTTP client for the upstream AI service.
// Both the proxy surface and the case workflow talk to the backend through
// it: raw calls relay bodies byte-for-byte, typed calls decode into the
// wire structs. The client owns timeout classification, error-body detail
// extraction, and rate-limit header capture.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Transport-level failure classes. Handlers map ErrTimeout to 504 and
// ErrUnreachable to 500 (503 on the health route).
var (
	ErrTimeout     = errors.New("backend request timed out")
	ErrUnreachable = errors.New("backend unreachable")
)

// maxRelayBody bounds how much of a backend response the gateway reads.
const maxRelayBody = 16 << 20 // 16 MiB

// rateLimitHeaders are the quota headers relayed from backend responses.
var rateLimitHeaders = []string{
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Window",
	"Retry-After",
}

// Result is the raw outcome of a backend call. The body is fully read
// before Result is returned, so callers never hold a connection open.
type Result struct {
	StatusCode int
	Body       []byte
	Header     http.Header // rate-limit subset only
}

// OK reports whether the backend answered with a 2xx status.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Detail extracts a human-readable error description from a non-2xx body.
// FastAPI publishes {"detail": ...}; some services use {"message": ...};
// anything else falls back to the raw text, then to the bare status.
func (r *Result) Detail() string {
	if d := extractDetail(r.Body); d != "" {
		return d
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// CopyHeaders writes the captured rate-limit headers into dst.
func (r *Result) CopyHeaders(dst http.Header) {
	for name, values := range r.Header {
		for _, v := range values {
			dst.Set(name, v)
		}
	}
}

func extractDetail(body []byte) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, raw := range []json.RawMessage{envelope.Detail, envelope.Message} {
			if len(raw) == 0 {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				if s != "" {
					return s
				}
				continue
			}
			// Non-string detail (e.g. a validation error list): relay the JSON.
			return string(raw)
		}
	}
	return strings.TrimSpace(string(body))
}

// StatusError reports a non-2xx backend response to typed callers.
type StatusError struct {
	StatusCode int
	Detail     string
	Header     http.Header
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
}

// Timeouts carries the per-endpoint deadlines. The long deadlines on the
// differential and debate paths cover a model cold start.
type Timeouts struct {
	Health       time.Duration
	Differential time.Duration
	Debate       time.Duration
	Summary      time.Duration
	Image        time.Duration
	Labs         time.Duration
}

// DefaultTimeouts returns the contract defaults per endpoint.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Health:       5 * time.Second,
		Differential: 295 * time.Second,
		Debate:       295 * time.Second,
		Summary:      120 * time.Second,
		Image:        120 * time.Second,
		Labs:         120 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Health <= 0 {
		t.Health = def.Health
	}
	if t.Differential <= 0 {
		t.Differential = def.Differential
	}
	if t.Debate <= 0 {
		t.Debate = def.Debate
	}
	if t.Summary <= 0 {
		t.Summary = def.Summary
	}
	if t.Image <= 0 {
		t.Image = def.Image
	}
	if t.Labs <= 0 {
		t.Labs = def.Labs
	}
	return t
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the transport used for backend calls. Deadlines
// come from the per-call context, so the injected client should not set its
// own timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to the AI backend over its JSON/multipart HTTP contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
	logger     zerolog.Logger
}

// NewClient creates a backend client for the given base URL. Zero timeout
// fields fall back to the contract defaults.
func NewClient(baseURL string, timeouts Timeouts, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeouts:   timeouts.withDefaults(),
		logger:     logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Timeouts returns the per-endpoint deadlines the client was built with.
func (c *Client) Timeouts() Timeouts {
	return c.timeouts
}

// ---------------------------------------------------------------------------
// Raw calls (proxy surface)
// ---------------------------------------------------------------------------

// PostJSONRaw posts pre-encoded JSON bytes to path. The proxy surface uses
// it to relay inbound bodies without re-encoding them.
func (c *Client) PostJSONRaw(ctx context.Context, path string, body []byte, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// PostJSON encodes payload as JSON and posts it to path.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}, timeout time.Duration) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return c.PostJSONRaw(ctx, path, body, timeout)
}

// PostFile rebuilds a single-file multipart form and posts it to path.
// Uploads are buffered, not streamed, so a slow backend cannot pin the
// inbound request body open.
func (c *Client) PostFile(ctx context.Context, path, field, filename string, content []byte, timeout time.Duration) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("writing file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req)
}

// Get issues a GET to path.
func (c *Client) Get(ctx context.Context, path string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Result, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn().
				Str("path", req.URL.Path).
				Dur("after", time.Since(start)).
				Msg("backend call timed out")
			return nil, ErrTimeout
		}
		c.logger.Error().Err(err).
			Str("path", req.URL.Path).
			Msg("backend call failed")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	header := make(http.Header)
	for _, name := range rateLimitHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     header,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ---------------------------------------------------------------------------
// Typed calls (case workflow surface)
// ---------------------------------------------------------------------------

// Differential requests a ranked differential for the given case context.
func (c *Client) Differential(ctx context.Context, req DifferentialRequest) (*DifferentialResponse, error) {
	req.normalize()
	res, err := c.PostJSON(ctx, "/differential", &req, c.timeouts.Differential)
	if err != nil {
		return nil, err
	}
	var out DifferentialResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DebateTurn runs one challenge/response cycle against the backend.
func (c *Client) DebateTurn(ctx context.Context, req DebateTurnRequest) (*DebateTurnResponse, error) {
	req.normalize()
	res, err := c.PostJSON(ctx, "/debate-turn", &req, c.timeouts.Debate)
	if err != nil {
		return nil, err
	}
	var out DebateTurnResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary asks the backend to close out a case.
func (c *Client) Summary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	req.normalize()
	res, err := c.PostJSON(ctx, "/summary", &req, c.timeouts.Summary)
	if err != nil {
		return nil, err
	}
	var out SummaryResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeImage uploads a medical image for classification and analysis.
func (c *Client) AnalyzeImage(ctx context.Context, filename string, content []byte) (*ImageAnalysisResponse, error) {
	res, err := c.PostFile(ctx, "/analyze-image", "file", filename, content, c.timeouts.Image)
	if err != nil {
		return nil, err
	}
	var out ImageAnalysisResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractLabsFile uploads a lab report for structured value extraction.
func (c *Client) ExtractLabsFile(ctx context.Context, filename string, content []byte) (*ExtractLabsFileResponse, error) {
	res, err := c.PostFile(ctx, "/extract-labs-file", "file", filename, content, c.timeouts.Labs)
	if err != nil {
		return nil, err
	}
	var out ExtractLabsFileResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the backend's health report.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	res, err := c.Get(ctx, "/health", c.timeouts.Health)
	if err != nil {
		return nil, err
	}
	var out HealthStatus
	if err := decode(res, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func decode(res *Result, out interface{}) error {
	if !res.OK() {
		return &StatusError{
			StatusCode: res.StatusCode,
			Detail:     res.Detail(),
			Header:     res.Header,
		}
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("decoding backend response: %w", err)
	}
	return nil
}
