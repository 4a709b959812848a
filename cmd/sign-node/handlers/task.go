package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/signer/cmd/sign-node/consumer"
	"github.com/lyzr/signer/cmd/sign-node/middleware"
	"github.com/lyzr/signer/cmd/sign-node/repository"
	"github.com/lyzr/signer/common/models"
)

// maxTaskBody caps submitted task documents
const maxTaskBody = 8 << 20

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Enqueuer appends a message to a Redis stream
type Enqueuer interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// HistoryReader looks up finished task results
type HistoryReader interface {
	Get(ctx context.Context, taskID models.ID) (*models.TaskResult, error)
}

// TaskHandler handles sign task requests
type TaskHandler struct {
	queue   Enqueuer
	history HistoryReader
	stream  string
	logger  Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(queue Enqueuer, history HistoryReader, stream string, logger Logger) *TaskHandler {
	return &TaskHandler{
		queue:   queue,
		history: history,
		stream:  stream,
		logger:  logger,
	}
}

// SubmitTask validates a task and queues it for the sign nodes
// POST /api/v1/sign-tasks
func (h *TaskHandler) SubmitTask(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTaskBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}
	if len(body) > maxTaskBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "task document too large")
	}

	task, err := models.DecodeTask(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	messageID, err := h.queue.AddToStream(ctx, h.stream, map[string]interface{}{
		consumer.TaskField: string(body),
	})
	if err != nil {
		h.logger.Error("failed to queue sign task", "task_id", task.ID, "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to queue sign task")
	}

	h.logger.Info("sign task queued",
		"task_id", task.ID,
		"packages", len(task.Packages.Descriptors),
		"message_id", messageID,
		"submitter", middleware.Submitter(c))

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"task_id":    task.ID,
		"message_id": messageID,
		"packages":   len(task.Packages.Descriptors),
	})
}

// GetTask returns the reported result of a task
// GET /api/v1/sign-tasks/:id
func (h *TaskHandler) GetTask(c echo.Context) error {
	taskID := models.ID(c.Param("id"))

	result, err := h.history.Get(c.Request().Context(), taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "sign task not found")
	}
	if err != nil {
		h.logger.Error("failed to load sign task", "task_id", taskID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load sign task")
	}

	return c.JSON(http.StatusOK, result)
}
