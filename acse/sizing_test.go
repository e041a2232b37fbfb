package acse

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSendPDVLength(t *testing.T) {
	tests := []struct {
		name     string
		theirMax uint32
		want     uint32
		warns    bool
	}{
		{"unlimited", 0, 131060, false},
		{"default", 16384, 16372, false},
		{"odd", 16385, 16372, true},
		{"above cap", 200000, 131060, false},
		{"cap", 131072, 131060, false},
		{"minimum", 4096, 4084, false},
		{"header only", 12, 4084, true},
		{"odd header", 13, 4084, true},
		{"tiny", 10, 4084, true},
		{"one", 1, 4084, true},
		{"just enough", 24, 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()
			got := computeSendPDVLength(tt.theirMax, logger)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.warns, strings.Contains(buf.String(), "level=WARN"))
		})
	}
}

func TestComputeSendPDVLength_TinyPeerWarns(t *testing.T) {
	logger, buf := captureLogger()
	got := computeSendPDVLength(10, logger)

	assert.Equal(t, uint32(MinimumPDUSize-pduOverhead), got)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "too small")
}

func TestComputeSendPDVLength_Bounds(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	samples := []uint32{0, 1, 2, 11, 12, 13, 23, 24, 25, 100, 4095, 4096, 4097, 8191, 16384, 65535, 131071, 131072, 131073, 1 << 30, ^uint32(0)}
	for v := uint32(0); v < 300; v++ {
		samples = append(samples, v)
	}

	for _, theirMax := range samples {
		got := computeSendPDVLength(theirMax, discard)
		assert.Zero(t, got%2, "peer %d", theirMax)
		assert.GreaterOrEqual(t, got, uint32(pduOverhead), "peer %d", theirMax)
		assert.LessOrEqual(t, got, uint32(MaximumPDUSize-pduOverhead), "peer %d", theirMax)
		if theirMax >= 1 && theirMax < 2*pduOverhead {
			assert.Equal(t, uint32(MinimumPDUSize-pduOverhead), got, "peer %d", theirMax)
		}
	}
}
