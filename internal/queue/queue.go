// Package queue is the message-driven inbound surface: validation
// requests arrive on a redis list and results are published back onto
// the same list with the status field set.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sigval/internal/model"
)

// commands is the slice of the redis API the queue needs. *redis.Client
// satisfies it; tests substitute a fake.
type commands interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// invalidMessage is published when a queue payload cannot be decoded.
const invalidMessage = "Invalid queue message: The message format is not valid JSON."

// Queue wraps one redis list used for both requests and results.
type Queue struct {
	rdb          commands
	name         string
	blockTimeout time.Duration
}

// New builds a Queue on the given redis client and list name.
func New(client *redis.Client, name string, blockTimeout time.Duration) *Queue {
	return &Queue{rdb: client, name: name, blockTimeout: blockTimeout}
}

// Pop blocks for up to the configured timeout and returns the next raw
// payload. An empty string with nil error means the timeout elapsed
// with nothing queued.
func (q *Queue) Pop(ctx context.Context) (string, error) {
	// BLPop returns [key, value].
	result, err := q.rdb.BLPop(ctx, q.blockTimeout, q.name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "queue: blpop")
	}
	return result[1], nil
}

// Publish serializes a validation response onto the list.
func (q *Queue) Publish(ctx context.Context, resp model.ValidationResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return eris.Wrap(err, "queue: marshal response")
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return eris.Wrap(err, "queue: rpush")
	}
	return nil
}

// Handler runs one validation request to completion.
type Handler func(ctx context.Context, req model.ValidationRequest) []model.ValidationResponse

// Consumer drains the queue and feeds requests to a handler.
type Consumer struct {
	queue  *Queue
	handle Handler
}

// NewConsumer builds a Consumer over an existing Queue.
func NewConsumer(q *Queue, handle Handler) *Consumer {
	return &Consumer{queue: q, handle: handle}
}

// Run loops until the context is canceled. Redis errors are logged and
// retried after a short pause rather than stopping the worker.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := c.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("queue receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if raw == "" {
			continue
		}

		c.Process(ctx, raw)
	}
}

// Process handles one raw payload: decode, skip results, run, publish.
// Messages that already carry a terminal status are results of an
// earlier run circulating on the same list and must not be reprocessed.
func (c *Consumer) Process(ctx context.Context, raw string) {
	var req model.ValidationRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		taskID := taskIDOf(raw)
		zap.L().Error("malformed queue message",
			zap.String("task_id", taskID), zap.Error(err))
		c.publish(ctx, model.ValidationResponse{
			TaskID:  taskID,
			Source:  model.Source,
			Status:  model.StatusFailed,
			Message: invalidMessage,
		})
		return
	}

	if req.IsResult() {
		zap.L().Info("skipping result message",
			zap.String("task_id", req.TaskID),
			zap.String("status", req.Status))
		return
	}

	for _, resp := range c.handle(ctx, req) {
		c.publish(ctx, resp)
	}
}

func (c *Consumer) publish(ctx context.Context, resp model.ValidationResponse) {
	if err := c.queue.Publish(ctx, resp); err != nil {
		zap.L().Error("result publish failed",
			zap.String("task_id", resp.TaskID), zap.Error(err))
	}
}

// taskIDOf best-effort extracts the task id from a payload that failed
// full decoding, so the failure response still correlates.
func taskIDOf(raw string) string {
	var probe struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err == nil && probe.TaskID != "" {
		return probe.TaskID
	}
	return "unknown"
}
