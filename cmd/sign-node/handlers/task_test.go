package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/signer/cmd/sign-node/consumer"
	"github.com/lyzr/signer/cmd/sign-node/handlers"
	"github.com/lyzr/signer/cmd/sign-node/repository"
	"github.com/lyzr/signer/cmd/sign-node/routes"
	"github.com/lyzr/signer/common/logger"
	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	stream string
	values map[string]interface{}
	err    error
}

func (q *fakeQueue) AddToStream(_ context.Context, stream string, values map[string]interface{}) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.stream = stream
	q.values = values
	return "1700000000000-0", nil
}

type fakeHistory map[models.ID]*models.TaskResult

func (h fakeHistory) Get(_ context.Context, taskID models.ID) (*models.TaskResult, error) {
	if taskID == "broken" {
		return nil, errors.New("db down")
	}
	result, ok := h[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrTaskNotFound, taskID)
	}
	return result, nil
}

func newServer(queue *fakeQueue, history fakeHistory, check handlers.HealthChecker) *echo.Echo {
	e := echo.New()
	routes.RegisterTaskRoutes(e, handlers.NewTaskHandler(queue, history, "sign.tasks", logger.Discard()), routes.TaskRouteOpts{})
	routes.RegisterSystemRoutes(e, handlers.NewSystemHandler("sign-node", check), http.NotFoundHandler())
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	queue := &fakeQueue{}
	e := newServer(queue, fakeHistory{}, nil)

	body := `{"id": 17, "keyid": "K", "packages": [{"id": 1, "name": "a.rpm", "download_url": "http://b/a.rpm"}]}`
	rec := do(e, http.MethodPost, "/api/v1/sign-tasks", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":"17"`)
	assert.Equal(t, "sign.tasks", queue.stream)
	assert.Equal(t, body, queue.values[consumer.TaskField])
}

func TestSubmitTask_Invalid(t *testing.T) {
	queue := &fakeQueue{}
	e := newServer(queue, fakeHistory{}, nil)

	rec := do(e, http.MethodPost, "/api/v1/sign-tasks", `{"keyid": "K", "packages": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, queue.values, "invalid tasks are not queued")
}

func TestSubmitTask_QueueDown(t *testing.T) {
	e := newServer(&fakeQueue{err: errors.New("redis down")}, fakeHistory{}, nil)
	rec := do(e, http.MethodPost, "/api/v1/sign-tasks", `{"id": 1, "packages": []}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetTask(t *testing.T) {
	history := fakeHistory{"17": {
		TaskID:     "17",
		Payload:    models.ResponsePayload{Success: true},
		ReportedAt: time.Unix(0, 0).UTC(),
	}}
	e := newServer(&fakeQueue{}, history, nil)

	rec := do(e, http.MethodGet, "/api/v1/sign-tasks/17", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/sign-tasks/18", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/api/v1/sign-tasks/broken", "").Code)
}

func TestHealth(t *testing.T) {
	healthy := newServer(&fakeQueue{}, fakeHistory{}, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, do(healthy, http.MethodGet, "/health", "").Code)

	sick := newServer(&fakeQueue{}, fakeHistory{}, func(context.Context) error { return errors.New("redis: down") })
	rec := do(sick, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: down")
}
