package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/models"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// ListPusher appends encoded results to a Redis list
type ListPusher interface {
	PushToList(ctx context.Context, list string, value []byte) error
}

// HistorySaver persists results for later lookup
type HistorySaver interface {
	Save(ctx context.Context, result models.TaskResult) error
}

func newResult(taskID models.ID, payload models.ResponsePayload) models.TaskResult {
	return models.TaskResult{
		TaskID:     taskID,
		Payload:    payload,
		ReportedAt: time.Now().UTC(),
	}
}

// RedisReporter pushes results onto a list consumed by the build system
type RedisReporter struct {
	client ListPusher
	list   string
	log    Logger
}

// NewRedisReporter creates a reporter pushing to list
func NewRedisReporter(client ListPusher, list string, log Logger) *RedisReporter {
	return &RedisReporter{client: client, list: list, log: log}
}

// Report implements pipeline.Reporter
func (r *RedisReporter) Report(ctx context.Context, taskID models.ID, payload models.ResponsePayload) error {
	data, err := json.Marshal(newResult(taskID, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := r.client.PushToList(ctx, r.list, data); err != nil {
		return fmt.Errorf("failed to push result: %w", err)
	}

	r.log.Info("reported sign task result",
		"task_id", taskID,
		"success", payload.Success,
		"packages", len(payload.Packages))
	return nil
}

// HistoryReporter records results in the task history
type HistoryReporter struct {
	repo HistorySaver
}

// NewHistoryReporter creates a reporter over repo
func NewHistoryReporter(repo HistorySaver) *HistoryReporter {
	return &HistoryReporter{repo: repo}
}

// Report implements pipeline.Reporter
func (r *HistoryReporter) Report(ctx context.Context, taskID models.ID, payload models.ResponsePayload) error {
	return r.repo.Save(ctx, newResult(taskID, payload))
}

// WriterReporter prints results as indented JSON
type WriterReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterReporter creates a reporter writing to w
func NewWriterReporter(w io.Writer) *WriterReporter {
	return &WriterReporter{w: w}
}

// Report implements pipeline.Reporter
func (r *WriterReporter) Report(_ context.Context, taskID models.ID, payload models.ResponsePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(newResult(taskID, payload))
}

// Multi delivers to every sink, even when an earlier one fails
type Multi []pipeline.Reporter

// Report implements pipeline.Reporter
func (m Multi) Report(ctx context.Context, taskID models.ID, payload models.ResponsePayload) error {
	var result *multierror.Error
	for _, r := range m {
		if err := r.Report(ctx, taskID, payload); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
