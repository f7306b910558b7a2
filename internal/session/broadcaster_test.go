// ABOUTME: Tests for the wire-event broadcaster
// ABOUTME: Fan-out to multiple subscribers, drop-on-full, context cleanup

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbot/openbot-gateway/internal/protocol"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := context.Background()
	ch1, _ := b.Subscribe(ctx, "s1")
	ch2, _ := b.Subscribe(ctx, "s1")
	other, _ := b.Subscribe(ctx, "s2")

	b.Publish("s1", protocol.NewChunkEvent("hello", false))

	for _, ch := range []<-chan *protocol.Message{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, protocol.EventAgentChunk, msg.Event)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other:
		t.Fatal("unrelated session received event")
	default:
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, subID := b.Subscribe(context.Background(), "s1")

	b.Unsubscribe("s1", subID)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last unsubscribe is a no-op.
	b.Publish("s1", protocol.NewCompleteEvent("s1"))
}

func TestBroadcasterContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "s1")

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "s1")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish("s1", protocol.NewChunkEvent("x", false))
	}

	// The buffer holds exactly its capacity; the rest were dropped, and
	// publishing never blocked.
	assert.Len(t, ch, subscriberBufferSize)
}
