package utils_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/utils"
)

func TestCountTokens(t *testing.T) {
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, counter.CountTokens(""))

	count := counter.CountTokens("Hello, world! This is a test sentence.")
	assert.Greater(t, count, 0)
	assert.Less(t, count, 20)
}

func TestCountTokensNilCounterFallsBack(t *testing.T) {
	var counter *utils.TokenCounter
	assert.Equal(t, 5, counter.CountTokens(strings.Repeat("a", 20)))
}

func TestCountTokensSimple(t *testing.T) {
	assert.Greater(t, utils.CountTokensSimple("some text to count"), 0)
}

func TestValidateTokenLimit(t *testing.T) {
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.True(t, counter.ValidateTokenLimit("short", 100))
	assert.False(t, counter.ValidateTokenLimit(strings.Repeat("word ", 200), 10))
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := utils.NewTokenCounter("gpt-4")
	require.NoError(t, err)

	short := "already short"
	assert.Equal(t, short, counter.TruncateToTokenLimit(short, 100))

	long := strings.Repeat("some repeated text ", 100)
	truncated := counter.TruncateToTokenLimit(long, 10)
	assert.Less(t, len(truncated), len(long))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}
