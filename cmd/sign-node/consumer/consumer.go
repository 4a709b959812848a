package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/signer/common/clients"
	"github.com/lyzr/signer/common/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// TaskField is the stream message field carrying the task JSON
const TaskField = "task"

// StartedKeyTTL bounds how long a task id is remembered as started
const StartedKeyTTL = 24 * time.Hour

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// StreamClient is the part of the Redis client the consumer uses
type StreamClient interface {
	CreateStreamGroup(ctx context.Context, stream, group string) error
	ReadFromStreamGroup(ctx context.Context, group, consumer, stream string, count int64, block time.Duration) ([]redis.XStream, error)
	AckStreamMessage(ctx context.Context, stream, group, messageID string) error
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
}

// Runner executes one sign task to completion
type Runner interface {
	Run(ctx context.Context, task *models.SignTask) models.ResponsePayload
}

// TaskConsumerOpts configures a TaskConsumer
type TaskConsumerOpts struct {
	Client  StreamClient
	Runner  Runner
	Logger  Logger
	Stream  string
	Group   string
	Workers int
	Block   time.Duration
}

// TaskConsumer reads sign tasks from a Redis stream and runs them
type TaskConsumer struct {
	client  StreamClient
	runner  Runner
	logger  Logger
	stream  string
	group   string
	name    string
	workers int
	block   time.Duration
}

// NewTaskConsumer creates a consumer with a unique name per process
func NewTaskConsumer(opts TaskConsumerOpts) *TaskConsumer {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	block := opts.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	return &TaskConsumer{
		client:  opts.Client,
		runner:  opts.Runner,
		logger:  opts.Logger,
		stream:  opts.Stream,
		group:   opts.Group,
		name:    fmt.Sprintf("sign_node_%s", uuid.NewString()[:8]),
		workers: workers,
		block:   block,
	}
}

// StartedKey is the idempotency key of a task
func StartedKey(taskID models.ID) string {
	return fmt.Sprintf("sign:started:%s", taskID)
}

// Start consumes until ctx is cancelled
func (c *TaskConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting sign task consumer",
		"stream", c.stream,
		"consumer_group", c.group,
		"consumer_name", c.name,
		"workers", c.workers)

	if err := c.client.CreateStreamGroup(ctx, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		name := fmt.Sprintf("%s_%d", c.name, i)
		g.Go(func() error {
			c.loop(ctx, name)
			return nil
		})
	}
	return g.Wait()
}

func (c *TaskConsumer) loop(ctx context.Context, name string) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sign task consumer stopping", "consumer_name", name)
			return
		default:
			if err := c.processNext(ctx, name); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to read sign tasks", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (c *TaskConsumer) processNext(ctx context.Context, name string) error {
	streams, err := c.client.ReadFromStreamGroup(ctx, c.group, name, c.stream, 1, c.block)
	if err != nil {
		return err
	}

	// A claimed message runs to completion and is acked even during shutdown
	runCtx := context.WithoutCancel(ctx)
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.handleMessage(runCtx, message); err != nil {
				c.logger.Error("failed to handle sign task", "message_id", message.ID, "error", err)
			}
			// Acked even after a failed run; the failure is in the reported payload
			if err := c.client.AckStreamMessage(runCtx, c.stream, c.group, message.ID); err != nil {
				c.logger.Error("failed to ACK message", "message_id", message.ID, "error", err)
			}
		}
	}
	return nil
}

var errDuplicate = errors.New("task already started")

func (c *TaskConsumer) handleMessage(ctx context.Context, message redis.XMessage) error {
	raw, ok := message.Values[TaskField].(string)
	if !ok {
		return fmt.Errorf("message missing %s field", TaskField)
	}

	task, err := models.DecodeTask([]byte(raw))
	if err != nil {
		return err
	}

	fresh, err := c.client.SetNX(ctx, StartedKey(task.ID), message.ID, StartedKeyTTL)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !fresh {
		c.logger.Warn("skipping duplicate sign task", "task_id", task.ID, "message_id", message.ID)
		return fmt.Errorf("%w: %s", errDuplicate, task.ID)
	}

	ctx = clients.WithTaskID(ctx, task.ID.String())
	payload := c.runner.Run(ctx, task)

	c.logger.Info("sign task finished",
		"task_id", task.ID,
		"success", payload.Success,
		"packages", len(payload.Packages))
	return nil
}
