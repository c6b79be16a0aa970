package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	loop := New(zaptest.NewLogger(t))

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Post(func() { loop.Exit(nil) })

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopPostNeverRunsSynchronously(t *testing.T) {
	loop := New(zaptest.NewLogger(t))

	var trace []string
	loop.Post(func() {
		loop.Post(func() {
			trace = append(trace, "inner")
			loop.Exit(nil)
		})
		trace = append(trace, "outer")
	})

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []string{"outer", "inner"}, trace)
}

func TestLoopExitReturnsError(t *testing.T) {
	loop := New(zaptest.NewLogger(t))
	boom := errors.New("boom")

	ran := false
	loop.Post(func() { loop.Exit(boom) })
	loop.Post(func() { ran = true })

	assert.ErrorIs(t, loop.Run(context.Background()), boom)
	assert.False(t, ran, "tasks queued before exit must be dropped")

	loop.Post(func() { ran = true })
	assert.Equal(t, 0, loop.Pending())
}

func TestLoopStopsOnContext(t *testing.T) {
	loop := New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoopWakesForPostFromOtherGoroutine(t *testing.T) {
	loop := New(zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	go loop.Post(func() { loop.Exit(nil) })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not wake")
	}
}
