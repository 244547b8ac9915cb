package identifi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sigval/internal/resilience"
)

func fastRetry(maxAttempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestListDocuments_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/documents/smart-folder/17/export-ids", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]DocumentRef{
			{DocumentID: 100, ApplicationID: 1},
			{DocumentID: 101, ApplicationID: 1},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	refs, err := client.ListDocuments(context.Background(), 17)

	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 100, refs[0].DocumentID)
	assert.Equal(t, 1, refs[0].ApplicationID)
}

func TestListDocuments_EmptyFolderIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	refs, err := client.ListDocuments(context.Background(), 17)

	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestListDocuments_RetriesHTTPStatusFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"documentId": 5, "applicationId": 2}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(5)))
	refs, err := client.ListDocuments(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, refs, 1)
	assert.Equal(t, 5, refs[0].DocumentID)
}

func TestListDocuments_ExhaustionWrapsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not here`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(2)))
	_, err := client.ListDocuments(context.Background(), 1)

	require.Error(t, err)

	var exhausted *resilience.ExhaustedError
	require.True(t, eris.As(err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)

	var apiErr *APIError
	require.True(t, eris.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestListDocuments_MalformedJSONIsFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(5)))
	_, err := client.ListDocuments(context.Background(), 1)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "decode failures must not be retried")
}

func TestFetchContent_FilenameFromHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/document/2/100/content", r.URL.Path)
		w.Header().Set("Content-Disposition", `attachment; filename="loan_packet.pdf"`)
		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	content, filename, err := client.FetchContent(context.Background(), 2, 100)

	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), content)
	assert.Equal(t, "loan_packet.pdf", filename)
}

func TestFetchContent_FilenameFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		disposition string
	}{
		{"absent", ""},
		{"malformed", `;;;`},
		{"no filename param", `attachment`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.disposition != "" {
					w.Header().Set("Content-Disposition", tt.disposition)
				}
				w.Write([]byte("bytes"))
			}))
			defer srv.Close()

			client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
			_, filename, err := client.FetchContent(context.Background(), 2, 77)

			require.NoError(t, err)
			assert.Equal(t, "document_77.pdf", filename)
		})
	}
}

func TestUpdateAttribute_SendsValueBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/document/2/100/55", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"value": "87"}`, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	err := client.UpdateAttribute(context.Background(), 2, 100, 55, "87")

	require.NoError(t, err)
}

func TestUpdateAttribute_Idempotent(t *testing.T) {
	t.Parallel()

	var stored atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Value string `json:"value"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		stored.Store(payload.Value)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	require.NoError(t, client.UpdateAttribute(context.Background(), 2, 100, 55, "87"))
	require.NoError(t, client.UpdateAttribute(context.Background(), 2, 100, 55, "87"))

	// Overwrite semantics: the final stored value is the same regardless
	// of how many times the update ran.
	assert.Equal(t, "87", stored.Load())
}

func TestAddNote_SendsNoteBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/document/2/100/notes", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"id": 0, "text": "checked 3 pages", "page": 1}`, string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", WithRetryConfig(fastRetry(1)))
	err := client.AddNote(context.Background(), 2, 100, "checked 3 pages", 1)

	require.NoError(t, err)
}

func TestEndpointTrailingSlashNormalized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents/smart-folder/1/export-ids", r.URL.Path)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "test-key", WithRetryConfig(fastRetry(1)))
	_, err := client.ListDocuments(context.Background(), 1)
	require.NoError(t, err)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	assert.True(t, ShouldRetry(&APIError{StatusCode: 400}))
	assert.True(t, ShouldRetry(&APIError{StatusCode: 503}))
	assert.True(t, ShouldRetry(resilience.NewTransientError(assert.AnError, 0)))
	assert.False(t, ShouldRetry(assert.AnError))
}
