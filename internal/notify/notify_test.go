package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no signal")
	}
}

func assertQuiet(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	n := NewRedis(rdb, "")
	ch, cancel, err := n.Subscribe(ctx, 5)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, n.Publish(ctx, 6))
	assertQuiet(t, ch)

	require.NoError(t, n.Publish(ctx, 5))
	waitSignal(t, ch)

	cancel()
	cancel()
}

func TestLocalNotifierCoalesces(t *testing.T) {
	ctx := context.Background()
	n := NewLocal()
	ch, cancel, err := n.Subscribe(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, 1))
	require.NoError(t, n.Publish(ctx, 1))
	waitSignal(t, ch)
	assertQuiet(t, ch)

	cancel()
	require.NoError(t, n.Publish(ctx, 1))
	assertQuiet(t, ch)
	assert.Empty(t, n.subs)
}
