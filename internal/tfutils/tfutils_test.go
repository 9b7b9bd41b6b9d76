package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for _, tf := range GetSupportedTimeframes() {
		d, err := ParseTimeframe(tf)
		require.NoError(t, err, tf)
		assert.Positive(t, d)
		assert.True(t, IsValidTimeframe(tf))
	}

	_, err := ParseTimeframe("2w")
	assert.Error(t, err)
	assert.False(t, IsValidTimeframe(""))
}

func TestBucketStart(t *testing.T) {
	ts := time.Date(2022, 4, 4, 9, 17, 42, 123000, time.UTC)

	assert.Equal(t, time.Date(2022, 4, 4, 9, 17, 0, 0, time.UTC), BucketStart(ts, "1m"))
	assert.Equal(t, time.Date(2022, 4, 4, 9, 15, 0, 0, time.UTC), BucketStart(ts, "5m"))
	assert.Equal(t, time.Date(2022, 4, 4, 8, 0, 0, 0, time.UTC), BucketStart(ts, "4h"))
	assert.Equal(t, time.Date(2022, 4, 4, 0, 0, 0, 0, time.UTC), BucketStart(ts, "1d"))
}

func TestSecondTimeframes(t *testing.T) {
	tests := []struct {
		timeframe string
		want      time.Duration
	}{
		{"1s", time.Second},
		{"15s", 15 * time.Second},
		{"90s", 90 * time.Second},
		{"86400s", 24 * time.Hour},
		{"86401s", 0},
		{"0s", 0},
		{"-5s", 0},
		{"+5s", 0},
		{"s", 0},
		{"1.5s", 0},
	}
	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			assert.Equal(t, tt.want, GetTimeframeDuration(tt.timeframe))
			assert.Equal(t, tt.want > 0, IsValidTimeframe(tt.timeframe))
		})
	}

	ts := time.Date(2022, 4, 4, 9, 17, 42, 987000, time.UTC)
	assert.Equal(t, time.Date(2022, 4, 4, 9, 17, 42, 0, time.UTC), BucketStart(ts, "1s"))
	assert.Equal(t, time.Date(2022, 4, 4, 9, 17, 30, 0, time.UTC), BucketStart(ts, "15s"))
	assert.Equal(t, time.Date(2022, 4, 4, 9, 16, 30, 0, time.UTC), BucketStart(ts, "90s"))
}
