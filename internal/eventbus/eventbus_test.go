package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_FilterAndDecode(t *testing.T) {
	bus := NewMemoryBus(16)

	var mu sync.Mutex
	var got []ChatEvent
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeChat}}, func(ctx context.Context, ev *Envelope) {
		var c ChatEvent
		if ev.Decode(&c) == nil {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	joined, err := NewEnvelope(TypePlayerJoined, 1, PlayerEvent{Name: "Steve"})
	require.NoError(t, err)
	chat, err := NewEnvelope(TypeChat, 1, ChatEvent{Name: "Steve", Message: "hi"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), joined))
	require.NoError(t, bus.Publish(context.Background(), chat))

	require.NoError(t, bus.Close())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Message)

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Consumed)

	assert.ErrorIs(t, bus.Publish(context.Background(), chat), ErrClosed)
	require.NoError(t, bus.Close())
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(8)
	calls := make(chan struct{}, 8)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		calls <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: TypeChat}))
	require.NoError(t, bus.Close())
	assert.Len(t, calls, 0)
}

func TestRegisterMetrics(t *testing.T) {
	bus := NewMemoryBus(4)
	reg := prometheus.NewRegistry()
	RegisterMetrics(reg, bus)

	require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: TypeChat}))
	require.NoError(t, bus.Close())

	n, err := testutil.GatherAndCount(reg, "eventbus_messages_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
