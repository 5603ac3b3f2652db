package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{12500 * time.Millisecond, "12.5s"},
		{3*time.Minute + 5*time.Second, "3m 05s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestFormatDurationShort(t *testing.T) {
	assert.Equal(t, "0ms", formatDurationShort(0))
	assert.Equal(t, "250µs", formatDurationShort(250*time.Microsecond))
	assert.Equal(t, "1.50ms", formatDurationShort(1500*time.Microsecond))
	assert.Equal(t, "2.00s", formatDurationShort(2*time.Second))
	assert.Equal(t, "1.5m", formatDurationShort(90*time.Second))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "12,345,678", formatNumber(12345678))
	assert.Equal(t, "-4,200", formatNumber(-4200))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.0 KiB", formatBytes(2048))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██░░]", progressBar(0.5, 4))
	assert.Equal(t, "[░░░░]", progressBar(-1, 4))
	assert.Equal(t, "[████]", progressBar(2, 4))
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "ok", stripANSI("\033[32mok\033[0m"))
	assert.Equal(t, "plain", stripANSI("plain"))
}
