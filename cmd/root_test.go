package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestParseRateLimit(t *testing.T) {
	cases := []struct {
		input string
		limit rate.Limit
		burst int
	}{
		{"10MB", rate.Limit(10 << 20), 1 << 20},
		{"500KB", rate.Limit(500 << 10), 500 << 10},
		{"1GB", rate.Limit(1 << 30), 1 << 20},
		{"4kb", rate.Limit(4 << 10), 4 << 10},
		{"512", rate.Limit(512), 512},
		{"64B", rate.Limit(64), 64},
	}
	for _, tc := range cases {
		limiter, err := parseRateLimit(tc.input)
		require.NoError(t, err, tc.input)
		require.NotNil(t, limiter, tc.input)
		assert.Equal(t, tc.limit, limiter.Limit(), tc.input)
		assert.Equal(t, tc.burst, limiter.Burst(), tc.input)
	}
}

func TestParseRateLimitUnset(t *testing.T) {
	limiter, err := parseRateLimit("")
	require.NoError(t, err)
	assert.Nil(t, limiter)
}

func TestParseRateLimitRejectsInvalid(t *testing.T) {
	for _, input := range []string{"abc", "-5MB", "0", "0KB", "MB"} {
		_, err := parseRateLimit(input)
		assert.Error(t, err, input)
	}
}

func TestHighThreadModeFollowsConnectionCount(t *testing.T) {
	restore := workers
	t.Cleanup(func() { workers = restore })

	workers = 8
	rootCmd.PersistentPreRun(rootCmd, nil)
	assert.True(t, globalHTTPConfig.HighThreadMode)

	workers = 4
	rootCmd.PersistentPreRun(rootCmd, nil)
	assert.False(t, globalHTTPConfig.HighThreadMode)
}
