package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/domain"
)

func recvFrame(t *testing.T, ch <-chan domain.Frame) domain.Frame {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return domain.Frame{}
	}
}

func assertNoFrame(t *testing.T, ch <-chan domain.Frame) {
	t.Helper()
	select {
	case frame := <-ch:
		t.Fatalf("unexpected frame %q", frame.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestHub_FanOut verifies broadcast to all other subscribers
func TestHub_FanOut(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chA, unsubA := hub.Subscribe("a")
	chB, unsubB := hub.Subscribe("b")
	chC, unsubC := hub.Subscribe("c")
	defer unsubA()
	defer unsubB()
	defer unsubC()

	require.NoError(t, hub.Publish(domain.Frame{
		Type:      domain.FrameLeaderHeartbeat,
		SessionID: "a",
	}))

	assert.Equal(t, domain.FrameLeaderHeartbeat, recvFrame(t, chB).Type)
	assert.Equal(t, domain.FrameLeaderHeartbeat, recvFrame(t, chC).Type)
	assertNoFrame(t, chA)
}

// TestHub_SenderExcluded verifies a publisher never hears itself
func TestHub_SenderExcluded(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chA, unsubA := hub.Subscribe("a")
	defer unsubA()

	require.NoError(t, hub.Publish(domain.Frame{
		Type:      domain.FrameLeaderQuery,
		SessionID: "a",
	}))

	assertNoFrame(t, chA)
}

// TestHub_Unsubscribe verifies a removed subscriber stops receiving
func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chB, unsubB := hub.Subscribe("b")

	unsubB()
	assert.Equal(t, 0, hub.SubscriberCount())

	require.NoError(t, hub.Publish(domain.Frame{Type: domain.FrameLeaderQuery, SessionID: "a"}))

	// The channel is closed, not left dangling.
	_, open := <-chB
	assert.False(t, open)
}

// TestHub_ResubscribeReplaces verifies duplicate session ids
func TestHub_ResubscribeReplaces(t *testing.T) {
	hub := NewHub(zap.NewNop())
	chOld, _ := hub.Subscribe("a")
	chNew, unsubNew := hub.Subscribe("a")
	defer unsubNew()

	assert.Equal(t, 1, hub.SubscriberCount())

	_, open := <-chOld
	assert.False(t, open, "replaced subscription must be closed")

	require.NoError(t, hub.Publish(domain.Frame{Type: domain.FrameLeaderQuery, SessionID: "b"}))
	assert.Equal(t, domain.FrameLeaderQuery, recvFrame(t, chNew).Type)
}

// TestHub_LaggingSubscriberDropsFrames verifies non-blocking publish
func TestHub_LaggingSubscriberDropsFrames(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, unsub := hub.Subscribe("slow")
	defer unsub()

	// Never read; publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < busBufferSize+10; i++ {
			_ = hub.Publish(domain.Frame{Type: domain.FrameScanResult, SessionID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a lagging subscriber")
	}
}
