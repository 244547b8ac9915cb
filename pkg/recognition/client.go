// Package recognition is a thin client for the signature recognition
// endpoint. It submits document bytes as a multipart upload and returns
// the structured detection report.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sigval/internal/resilience"
)

const connTimeout = 50 * time.Second

// Client performs signature recognition on document bytes.
type Client interface {
	Recognize(ctx context.Context, filename string, content []byte) (*Result, error)
}

// Result is the structured recognition report. It is consumed right
// after the call and never persisted.
type Result struct {
	DocumentReport DocumentReport `json:"documentReport"`
	Pages          []Page         `json:"pages"`
}

// DocumentReport summarizes the whole document.
type DocumentReport struct {
	Status              string   `json:"status_of_Document"`
	PageCount           int      `json:"page_Count"`
	TotalZones          int      `json:"total_Zones"`
	SignaturesCompleted int      `json:"signatures_Completed"`
	MinConfidenceScore  *float64 `json:"min_confidence_score"`
}

// Page holds the signature zones detected on one page.
type Page struct {
	PageNumber int             `json:"page_Number"`
	Zones      []SignatureZone `json:"zones"`
}

// SignatureZone is one region expected to contain a signature.
type SignatureZone struct {
	Status          ZoneStatus  `json:"status"`
	ZoneSetting     ZoneSetting `json:"zone_Setting"`
	SignerNumber    int         `json:"signer_Number"`
	ConfidenceScore float64     `json:"confidence_score"`
}

// ZoneStatus is the detection outcome for a zone.
type ZoneStatus string

const (
	ZoneSigned   ZoneStatus = "Signed"
	ZoneUnsigned ZoneStatus = "Unsigned"
	ZoneSkipped  ZoneStatus = "Skipped"
	ZoneUnclear  ZoneStatus = "Unclear"
)

// ZoneSetting says whether a zone must be signed.
type ZoneSetting string

const (
	SettingRequired  ZoneSetting = "Required"
	SettingAllowSkip ZoneSetting = "AllowSkip"
)

// APIError is returned when the endpoint responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recognition: HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrMissingConfidence marks a response that parsed as JSON but lacks
// the minimum confidence score. It is fatal, never retried.
var ErrMissingConfidence = eris.New("recognition: response missing documentReport.min_confidence_score")

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithLimiter paces recognition calls; useful when the model endpoint
// cannot absorb folder-sized bursts.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.limiter = l
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	endpoint string
	http     *http.Client
	retry    resilience.RetryConfig
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
}

// NewClient creates a recognition client for the configured endpoint.
// The endpoint is same-trust-domain; no auth header is sent.
func NewClient(endpoint string, opts ...Option) Client {
	c := &httpClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: connTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldRetry is the eligibility predicate for recognition calls.
func ShouldRetry(err error) bool {
	if eris.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var apiErr *APIError
	if eris.As(err, &apiErr) {
		return true
	}
	return resilience.IsTransient(err)
}

func (c *httpClient) Recognize(ctx context.Context, filename string, content []byte) (*Result, error) {
	cfg := c.retry
	cfg.ShouldRetry = ShouldRetry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("recognition", "recognize")
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Result, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "recognition: limiter wait")
			}
		}
		if c.breaker != nil {
			return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*Result, error) {
				return c.recognizeOnce(ctx, filename, content)
			})
		}
		return c.recognizeOnce(ctx, filename, content)
	})
}

func (c *httpClient) recognizeOnce(ctx context.Context, filename string, content []byte) (*Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "application/pdf")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, eris.Wrap(err, "recognition: create form part")
	}
	if _, err := part.Write(content); err != nil {
		return nil, eris.Wrap(err, "recognition: write form part")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "recognition: close form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "recognition: create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "recognition: send request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "recognition: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "recognition: decode response")
	}
	if result.DocumentReport.MinConfidenceScore == nil {
		return nil, ErrMissingConfidence
	}

	return &result, nil
}
