package loop

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoopRunsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(testLogger())
	go l.Run(ctx)

	var got []int
	for i := 0; i < 100; i++ {
		l.Dispatch(func() { got = append(got, i) })
	}
	require.NoError(t, l.Call(ctx, func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopSerialisesConcurrentPosts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(testLogger())
	go l.Run(ctx)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Dispatch(func() { counter++ })
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Call(ctx, func() {}))
	assert.Equal(t, 1000, counter)
}

func TestLoopDispatchFromInsideLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(testLogger())
	go l.Run(ctx)

	var order []string
	require.NoError(t, l.Call(ctx, func() {
		order = append(order, "outer")
		l.Dispatch(func() { order = append(order, "inner") })
	}))
	require.NoError(t, l.Call(ctx, func() {}))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoopSurvivesPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(testLogger())
	go l.Run(ctx)

	l.Dispatch(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestCallAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(testLogger())
	finished := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(finished)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}

func TestInlineDispatcher(t *testing.T) {
	ran := false
	Inline.Dispatch(func() { ran = true })
	assert.True(t, ran)
}
