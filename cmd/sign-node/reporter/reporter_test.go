package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lyzr/signer/cmd/sign-node/pipeline"
	"github.com/lyzr/signer/common/logger"
	"github.com/lyzr/signer/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	lists map[string][][]byte
	err   error
}

func (f *fakePusher) PushToList(_ context.Context, list string, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.lists[list] = append(f.lists[list], value)
	return nil
}

type fakeSaver struct {
	saved []models.TaskResult
}

func (f *fakeSaver) Save(_ context.Context, result models.TaskResult) error {
	f.saved = append(f.saved, result)
	return nil
}

type failing struct{ msg string }

func (f failing) Report(context.Context, models.ID, models.ResponsePayload) error {
	return errors.New(f.msg)
}

func TestRedisReporter(t *testing.T) {
	pusher := &fakePusher{lists: map[string][][]byte{}}
	r := NewRedisReporter(pusher, "results", logger.Discard())

	payload := models.ResponsePayload{Success: true, Packages: []models.SignedPackage{{ID: "1", FileName: "a.rpm"}}}
	require.NoError(t, r.Report(context.Background(), "17", payload))

	require.Len(t, pusher.lists["results"], 1)
	var got models.TaskResult
	require.NoError(t, json.Unmarshal(pusher.lists["results"][0], &got))
	assert.Equal(t, models.ID("17"), got.TaskID)
	assert.True(t, got.Payload.Success)
	assert.False(t, got.ReportedAt.IsZero())
}

func TestRedisReporter_PushError(t *testing.T) {
	r := NewRedisReporter(&fakePusher{err: errors.New("down")}, "results", logger.Discard())
	err := r.Report(context.Background(), "17", models.ResponsePayload{})
	assert.ErrorContains(t, err, "down")
}

func TestWriterReporter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriterReporter(&buf).Report(context.Background(), "3", models.ResponsePayload{ErrorMessage: "x"}))
	assert.Contains(t, buf.String(), `"task_id": "3"`)
	assert.Contains(t, buf.String(), `"error_message": "x"`)
}

func TestMulti_DeliversToAllSinks(t *testing.T) {
	saver := &fakeSaver{}
	m := Multi{failing{"redis down"}, NewHistoryReporter(saver), failing{"db down"}}

	err := m.Report(context.Background(), "5", models.ResponsePayload{Success: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Contains(t, err.Error(), "db down")
	require.Len(t, saver.saved, 1)
	assert.Equal(t, models.ID("5"), saver.saved[0].TaskID)

	var _ pipeline.Reporter = m
}

func TestMulti_NoErrors(t *testing.T) {
	assert.NoError(t, Multi{NewHistoryReporter(&fakeSaver{})}.Report(context.Background(), "1", models.ResponsePayload{}))
}
