package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatResponseTime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{0, "0ms"},
		{500 * time.Nanosecond, "< 1μs"},
		{250 * time.Microsecond, "250μs"},
		{42 * time.Millisecond, "42ms"},
		{1500 * time.Millisecond, "1.5s"},
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatResponseTime(tt.duration))
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "45s", FormatUptime(45*time.Second))
	assert.Equal(t, "5m30s", FormatUptime(5*time.Minute+30*time.Second))
	assert.Equal(t, "2h15m", FormatUptime(2*time.Hour+15*time.Minute))
	assert.Equal(t, "3d6h", FormatUptime(78*time.Hour))
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(5, 0), "除零应该返回0.0%")
	assert.Equal(t, "50.0%", FormatPercentage(1, 2))
	assert.Equal(t, "33.3%", FormatPercentage(1, 3))
}
