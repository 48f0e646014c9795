package infra

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

// TestLogRing_Wraps verifies the ring keeps only the newest entries
func TestLogRing_Wraps(t *testing.T) {
	ring := NewLogRing(3)

	for i := 1; i <= 5; i++ {
		ring.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, ring.Recent())
}

// TestLogRing_PartialFill verifies oldest-first order before wrapping
func TestLogRing_PartialFill(t *testing.T) {
	ring := NewLogRing(10)
	ring.Append("a")
	ring.Append("b")

	assert.Equal(t, []string{"a", "b"}, ring.Recent())
}

// TestLogRing_Empty verifies an untouched ring
func TestLogRing_Empty(t *testing.T) {
	assert.Empty(t, NewLogRing(4).Recent())
}

// TestNewLogger_TeesIntoRing verifies logged entries reach the ring
func TestNewLogger_TeesIntoRing(t *testing.T) {
	ring := NewLogRing(16)
	logger, err := NewLogger(ring)
	require.NoError(t, err)

	logger.Info("scan processed", zap.String("text", "ASSET-1"))
	require.NoError(t, logger.Sync())

	entries := ring.Recent()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "scan processed")
	assert.Contains(t, entries[0], "text=ASSET-1")
}
