package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInProcessQueueRunsRegisteredHandler(t *testing.T) {
	q := NewInProcessQueue(2, zerolog.Nop())

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 1)

	q.Handle("greet", func(ctx context.Context, payload Payload) error {
		mu.Lock()
		got = append(got, string(payload))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	require.NoError(t, q.Enqueue(context.Background(), "greet", Payload("hello")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"hello"}, got)
}

func TestInProcessQueueDropsUnknownTaskType(t *testing.T) {
	q := NewInProcessQueue(1, zerolog.Nop())
	q.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer func() { _ = q.Stop(ctx) }()

	require.NoError(t, q.Enqueue(context.Background(), "unregistered", Payload("x")))
	time.Sleep(10 * time.Millisecond) // let the worker observe and drop it
}

func TestInProcessQueueStopDrainsInFlightWork(t *testing.T) {
	q := NewInProcessQueue(1, zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	q.Handle("slow", func(ctx context.Context, payload Payload) error {
		close(started)
		<-release
		return nil
	})
	q.Start()

	require.NoError(t, q.Enqueue(context.Background(), "slow", Payload("x")))
	<-started

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stopped <- q.Stop(ctx)
	}()

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stop never returned")
	}
}
