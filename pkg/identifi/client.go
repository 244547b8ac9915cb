// Package identifi is a thin typed client for the Identifi document
// store: smart folder enumeration, content download, attribute updates
// and notes. Every operation is retried with exponential backoff.
package identifi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sigval/internal/resilience"
)

// connTimeout bounds a single HTTP exchange, independent of retry backoff.
const connTimeout = 50 * time.Second

// Client defines the document store operations used by the validator.
type Client interface {
	// ListDocuments enumerates the documents of a smart folder. An empty
	// folder yields an empty slice, not an error.
	ListDocuments(ctx context.Context, folderID int) ([]DocumentRef, error)

	// FetchContent downloads a document and reports its filename.
	FetchContent(ctx context.Context, appID, docID int) ([]byte, string, error)

	// UpdateAttribute overwrites a document attribute value. The store
	// treats this as idempotent.
	UpdateAttribute(ctx context.Context, appID, docID, attributeID int, value string) error

	// AddNote appends a note to a document page.
	AddNote(ctx context.Context, appID, docID int, text string, page int) error
}

// DocumentRef identifies one document inside a smart folder. Zero values
// mean the store returned an entry without the identifier.
type DocumentRef struct {
	DocumentID    int `json:"documentId"`
	ApplicationID int `json:"applicationId"`
}

// APIError is returned when the store responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identifi: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry policy applied to every operation.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	retry    resilience.RetryConfig
}

// NewClient creates a store client for one endpoint and API key. The
// key is supplied per validation request, so clients are constructed
// per run rather than at process start.
func NewClient(endpoint, apiKey string, opts ...Option) Client {
	c := &httpClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
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

// ShouldRetry is the retry eligibility predicate for store calls: any
// HTTP status failure or transport-level error is retryable; decode
// failures are not.
func ShouldRetry(err error) bool {
	var apiErr *APIError
	if eris.As(err, &apiErr) {
		return true
	}
	return resilience.IsTransient(err)
}

func (c *httpClient) retryConfig(operation string) resilience.RetryConfig {
	cfg := c.retry
	cfg.ShouldRetry = ShouldRetry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("identifi", operation)
	}
	return cfg
}

func (c *httpClient) ListDocuments(ctx context.Context, folderID int) ([]DocumentRef, error) {
	path := fmt.Sprintf("%s/api/documents/smart-folder/%d/export-ids", c.endpoint, folderID)

	return resilience.DoVal(ctx, c.retryConfig("list_documents"), func(ctx context.Context) ([]DocumentRef, error) {
		body, _, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, eris.Wrap(err, "identifi: list documents")
		}

		var refs []DocumentRef
		if err := json.Unmarshal(body, &refs); err != nil {
			return nil, eris.Wrap(err, "identifi: decode document list")
		}
		return refs, nil
	})
}

func (c *httpClient) FetchContent(ctx context.Context, appID, docID int) ([]byte, string, error) {
	path := fmt.Sprintf("%s/api/document/%d/%d/content", c.endpoint, appID, docID)

	type download struct {
		content  []byte
		filename string
	}
	dl, err := resilience.DoVal(ctx, c.retryConfig("fetch_content"), func(ctx context.Context) (download, error) {
		body, header, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return download{}, eris.Wrap(err, "identifi: fetch content")
		}
		return download{
			content:  body,
			filename: filenameFromHeader(header.Get("Content-Disposition"), docID),
		}, nil
	})
	if err != nil {
		return nil, "", err
	}
	return dl.content, dl.filename, nil
}

func (c *httpClient) UpdateAttribute(ctx context.Context, appID, docID, attributeID int, value string) error {
	path := fmt.Sprintf("%s/api/document/%d/%d/%d", c.endpoint, appID, docID, attributeID)
	payload := map[string]string{"value": value}

	return resilience.Do(ctx, c.retryConfig("update_attribute"), func(ctx context.Context) error {
		if _, _, err := c.do(ctx, http.MethodPut, path, payload); err != nil {
			return eris.Wrap(err, "identifi: update attribute")
		}
		return nil
	})
}

func (c *httpClient) AddNote(ctx context.Context, appID, docID int, text string, page int) error {
	path := fmt.Sprintf("%s/api/document/%d/%d/notes", c.endpoint, appID, docID)
	payload := map[string]any{"id": 0, "text": text, "page": page}

	return resilience.Do(ctx, c.retryConfig("add_note"), func(ctx context.Context) error {
		if _, _, err := c.do(ctx, http.MethodPost, path, payload); err != nil {
			return eris.Wrap(err, "identifi: add note")
		}
		return nil
	})
}

func (c *httpClient) do(ctx context.Context, method, url string, payload any) ([]byte, http.Header, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return data, resp.Header, nil
}

// filenameFromHeader extracts the filename from a Content-Disposition
// header, falling back to document_{docId}.pdf when absent or malformed.
func filenameFromHeader(disposition string, docID int) string {
	fallback := fmt.Sprintf("document_%d.pdf", docID)
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	if name := params["filename"]; name != "" {
		return name
	}
	return fallback
}
