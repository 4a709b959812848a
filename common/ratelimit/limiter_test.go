package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	res, err := parseResult([]interface{}{int64(0), int64(61), int64(60), int64(12)})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(61), res.CurrentCount)
	assert.Equal(t, int64(60), res.Limit)
	assert.Equal(t, int64(12), res.RetryAfterSeconds)

	res, err = parseResult([]interface{}{int64(1), int64(1), int64(60), int64(0)})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestParseResult_Malformed(t *testing.T) {
	_, err := parseResult("nope")
	assert.Error(t, err)

	_, err = parseResult([]interface{}{int64(1), "x", int64(1), int64(0)})
	assert.Error(t, err)
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "rate_limit:submit:10.0.0.7", ClientKey("10.0.0.7"))
}
