package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shandysiswandi/schemabus/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsume_AcknowledgesHandled(t *testing.T) {
	m := NewMemory(MemoryConfig{PullWait: 50 * time.Millisecond})
	t.Cleanup(func() { _ = m.Close() })
	setupTopic(t, m, 0, "sub")

	_, err := m.Publish(context.Background(), "states", []OutgoingMessage{
		{Data: []byte("a")}, {Data: []byte("b")}, {Data: []byte("c")},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []string
	)
	stats := &ConsumeStats{}
	done := make(chan error, 1)
	go func() {
		done <- Consume(ctx, m, "sub", func(_ context.Context, msg ReceivedMessage) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, string(msg.Data))
			if len(seen) == 3 {
				cancel()
			}
			return nil
		}, WithConcurrency(2), WithStats(stats))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
	}

	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, int64(3), stats.Received.Load())
	assert.Equal(t, int64(3), stats.Acked.Load())

	left, err := m.Pull(context.Background(), "sub", 10, true)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestConsume_FailedHandlerLeavesMessage(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMemory(MemoryConfig{Clock: clk, PullWait: 20 * time.Millisecond})
	t.Cleanup(func() { _ = m.Close() })
	setupTopic(t, m, 10*time.Second, "sub")

	_, err := m.Publish(context.Background(), "states", []OutgoingMessage{{Data: []byte("x")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stats := &ConsumeStats{}
	err = Consume(ctx, m, "sub", func(context.Context, ReceivedMessage) error {
		defer cancel()
		panic("handler bug")
	}, WithStats(stats))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed.Load())

	clk.Advance(10 * time.Second)
	got, err := m.Pull(context.Background(), "sub", 1, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].DeliveryAttempt)
}

func TestConsume_MissingSubscription(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	t.Cleanup(func() { _ = m.Close() })

	err := Consume(context.Background(), m, "missing", func(context.Context, ReceivedMessage) error {
		return errors.New("unreachable")
	})
	require.ErrorIs(t, err, ErrSubscriptionNotFound)
}
