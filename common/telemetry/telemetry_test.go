package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lyzr/signer/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_ExposesPipelineMetrics(t *testing.T) {
	tel := New(6060, logger.Discard())

	tel.TaskStarted()
	tel.StageFinished("signing", 2*time.Second)
	tel.PackagesSigned("rpm", 3)
	tel.DuplicatesSkipped(1)
	tel.TaskFinished(true)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `sign_node_tasks_total{success="true"} 1`)
	assert.Contains(t, body, `sign_node_packages_signed_total{type="rpm"} 3`)
	assert.Contains(t, body, `sign_node_stage_duration_seconds_count{stage="signing"} 1`)
	assert.Contains(t, body, `sign_node_duplicate_uploads_skipped_total 1`)
	assert.Contains(t, body, `sign_node_active_tasks 0`)
}
