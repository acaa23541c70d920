package wake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepTimeout(t *testing.T) {
	h := NewHandle()
	out := h.Sleep(context.Background(), 10*time.Millisecond)
	assert.Equal(t, Timeout, out)
	assert.False(t, h.ShuttingDown())
}

func TestSleepWokenByShutdown(t *testing.T) {
	h := NewHandle()
	done := make(chan Outcome, 1)
	go func() {
		done <- h.Sleep(context.Background(), time.Hour)
	}()

	time.Sleep(10 * time.Millisecond)
	h.Shutdown()

	select {
	case out := <-done:
		assert.Equal(t, Woken, out)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not wake after Shutdown")
	}
}

func TestSleepAfterShutdownReturnsImmediately(t *testing.T) {
	h := NewHandle()
	h.Shutdown()

	start := time.Now()
	out := h.Sleep(context.Background(), time.Hour)
	require.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Woken, out)
}

func TestShutdownIdempotent(t *testing.T) {
	h := NewHandle()
	assert.NotPanics(t, func() {
		h.Shutdown()
		h.Shutdown()
	})
	assert.True(t, h.ShuttingDown())
}

func TestSleepWokenByContextCancel(t *testing.T) {
	h := NewHandle()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		done <- h.Sleep(ctx, time.Hour)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		assert.Equal(t, Woken, out)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not wake after context cancel")
	}
	assert.False(t, h.ShuttingDown(), "context cancellation should not trip process-wide shutdown")
}
