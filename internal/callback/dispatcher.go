// Package callback delivers validation results to caller-supplied URLs
// with bounded retries. Records live in memory for the lifetime of the
// process; completed records are pruned after a retention window.
package callback

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Status of a callback record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record tracks one callback delivery across attempts.
type Record struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	RetryCount   int             `json:"retryCount"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastAttempt  time.Time       `json:"lastAttempt,omitzero"`
	CompletedAt  time.Time       `json:"completedAt,omitzero"`
	FailedAt     time.Time       `json:"failedAt,omitzero"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Summary aggregates record counts by status.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Config tunes the dispatcher.
type Config struct {
	// MaxRetries is the number of re-deliveries after the first attempt.
	MaxRetries int
	// BaseDelay scales linearly with the retry count.
	BaseDelay time.Duration
	// PollInterval is how often the worker scans for due deliveries.
	PollInterval time.Duration
	// QueueCapacity bounds undelivered records; Enqueue fails beyond it.
	QueueCapacity int
	// RetainCompleted is how long completed records stay queryable.
	RetainCompleted time.Duration
}

// ErrQueueFull is returned by Enqueue when the pending queue is at
// capacity.
var ErrQueueFull = eris.New("callback: pending queue is full")

// ErrNotFound is returned for lookups of unknown record ids.
var ErrNotFound = eris.New("callback: record not found")

// Dispatcher owns the callback records and the delivery worker.
type Dispatcher struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.Mutex
	records map[string]*Record
	pending []scheduled

	stop chan struct{}
	done chan struct{}

	nowFunc func() time.Time
}

type scheduled struct {
	id  string
	due time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = hc
	}
}

// NewDispatcher builds a stopped dispatcher; call Start to begin
// delivering.
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 1000
	}
	if cfg.RetainCompleted == 0 {
		cfg.RetainCompleted = 24 * time.Hour
	}

	d := &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		records:    make(map[string]*Record),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	go d.run()
}

// Stop signals the worker and waits for it to drain, bounded by the
// given timeout.
func (d *Dispatcher) Stop(timeout time.Duration) {
	close(d.stop)
	select {
	case <-d.done:
	case <-time.After(timeout):
		zap.L().Warn("callback worker did not stop in time",
			zap.Duration("timeout", timeout))
	}
}

// Enqueue registers a payload for delivery and returns the record id.
func (d *Dispatcher) Enqueue(url string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", eris.Wrap(err, "callback: marshal payload")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) >= d.cfg.QueueCapacity {
		return "", ErrQueueFull
	}

	rec := &Record{
		ID:        uuid.NewString(),
		URL:       url,
		Payload:   body,
		Status:    StatusPending,
		CreatedAt: d.nowFunc(),
	}
	d.records[rec.ID] = rec
	d.pending = append(d.pending, scheduled{id: rec.ID, due: rec.CreatedAt})

	zap.L().Info("callback enqueued",
		zap.String("callback_id", rec.ID), zap.String("url", url))
	return rec.ID, nil
}

// Status returns a copy of one record.
func (d *Dispatcher) Status(id string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// Summary counts records by status.
func (d *Dispatcher) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	var s Summary
	for _, rec := range d.records {
		s.Total++
		switch rec.Status {
		case StatusPending:
			s.Pending++
		case StatusRetrying:
			s.Retrying++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Replay resets a failed record and schedules it for immediate
// delivery.
func (d *Dispatcher) Replay(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusFailed {
		return eris.Errorf("callback: record %s is %s, only failed records can be replayed", id, rec.Status)
	}

	rec.Status = StatusPending
	rec.RetryCount = 0
	rec.FailedAt = time.Time{}
	rec.ErrorMessage = ""
	d.pending = append(d.pending, scheduled{id: rec.ID, due: d.nowFunc()})

	zap.L().Info("callback replay requested", zap.String("callback_id", id))
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick delivers every due record once and prunes old completed ones.
func (d *Dispatcher) tick() {
	now := d.nowFunc()

	d.mu.Lock()
	var due []*Record
	remaining := d.pending[:0]
	for _, item := range d.pending {
		rec, ok := d.records[item.id]
		if !ok {
			continue
		}
		if item.due.After(now) {
			remaining = append(remaining, item)
			continue
		}
		due = append(due, rec)
	}
	d.pending = remaining
	d.mu.Unlock()

	for _, rec := range due {
		d.deliver(rec)
	}

	d.reap(now)
}

// deliver makes one attempt; on failure the record is either requeued
// with linear backoff or marked failed.
func (d *Dispatcher) deliver(rec *Record) {
	err := d.post(rec)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFunc()
	rec.LastAttempt = now

	if err == nil {
		rec.Status = StatusCompleted
		rec.CompletedAt = now
		rec.ErrorMessage = ""
		zap.L().Info("callback delivered",
			zap.String("callback_id", rec.ID),
			zap.Int("retry_count", rec.RetryCount))
		return
	}

	rec.RetryCount++
	rec.ErrorMessage = err.Error()

	if rec.RetryCount > d.cfg.MaxRetries {
		rec.Status = StatusFailed
		rec.FailedAt = now
		zap.L().Error("callback delivery exhausted",
			zap.String("callback_id", rec.ID),
			zap.Int("retry_count", rec.RetryCount-1),
			zap.Error(err))
		return
	}

	delay := d.cfg.BaseDelay * time.Duration(rec.RetryCount)
	rec.Status = StatusRetrying
	d.pending = append(d.pending, scheduled{id: rec.ID, due: now.Add(delay)})
	zap.L().Warn("callback delivery failed, will retry",
		zap.String("callback_id", rec.ID),
		zap.Int("retry_count", rec.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(err))
}

func (d *Dispatcher) post(rec *Record) error {
	req, err := http.NewRequest(http.MethodPost, rec.URL, bytes.NewReader(rec.Payload))
	if err != nil {
		return eris.Wrap(err, "callback: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "callback: post")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("callback: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// reap drops completed records older than the retention window.
func (d *Dispatcher) reap(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.cfg.RetainCompleted)
	for id, rec := range d.records {
		if rec.Status == StatusCompleted && rec.CompletedAt.Before(cutoff) {
			delete(d.records, id)
		}
	}
}
