package dispatcher

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/song"
	"github.com/nowplayd/nowplayd/internal/wake"
)

type recordingOutput struct {
	mu      sync.Mutex
	name    string
	batches [][]song.Song
	result  func(batch []song.Song) SendResult
}

func (r *recordingOutput) Name() string { return r.name }

func (r *recordingOutput) Send(ctx context.Context, batch []song.Song) SendResult {
	r.mu.Lock()
	cp := append([]song.Song(nil), batch...)
	r.batches = append(r.batches, cp)
	r.mu.Unlock()
	if r.result != nil {
		return r.result(batch)
	}
	return SendResult{}
}

type recordingCache struct {
	mu         sync.Mutex
	calls      []storeCall
	retryCalls [][]Output
}

type storeCall struct {
	song    song.Song
	outputs []Output
}

func (c *recordingCache) Store(s song.Song, failedOutputs []Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, storeCall{song: s, outputs: failedOutputs})
}

func (c *recordingCache) RetryFor(outputs []Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCalls = append(c.retryCalls, outputs)
}

func newTestLogger() *corelog.Logger {
	return corelog.New("test", io.Discard, corelog.Debug)
}

func runUntilQuiescent(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.QueueDepth() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func TestPublishFiltersShortSong(t *testing.T) {
	h := wake.NewHandle()
	out := &recordingOutput{name: "o1"}
	d := New([]Output{out}, nil, h, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Serve(ctx); close(done) }()

	d.Publish(song.Song{Title: "x", Length: 20 * time.Second})
	time.Sleep(20 * time.Millisecond)
	h.Shutdown()
	cancel()
	<-done

	assert.Empty(t, out.batches)
}

func TestPartialFailureRoutesOnlyFailedSongToCache(t *testing.T) {
	h := wake.NewHandle()
	o1 := &recordingOutput{name: "o1"}
	o2 := &recordingOutput{name: "o2", result: func(batch []song.Song) SendResult {
		return SendResult{FailedPositions: []int{1}}
	}}
	cache := &recordingCache{}
	d := New([]Output{o1, o2}, cache, h, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Serve(ctx); close(done) }()

	a := song.Song{Title: "A", Length: 60 * time.Second}
	b := song.Song{Title: "B", Length: 60 * time.Second}
	c := song.Song{Title: "C", Length: 60 * time.Second}
	d.Publish(a)
	d.Publish(b)
	d.Publish(c)

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.calls) == 1
	}, time.Second, time.Millisecond)

	h.Shutdown()
	cancel()
	<-done

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.calls, 1)
	assert.Equal(t, "B", cache.calls[0].song.Title)
	require.Len(t, cache.calls[0].outputs, 1)
	assert.Equal(t, "o2", cache.calls[0].outputs[0].Name())
}

func TestBatchSizeEnforced(t *testing.T) {
	h := wake.NewHandle()
	var mu sync.Mutex
	var sizes []int
	out := &recordingOutput{name: "o1", result: func(batch []song.Song) SendResult {
		mu.Lock()
		sizes = append(sizes, len(batch))
		mu.Unlock()
		return SendResult{}
	}}
	d := New([]Output{out}, nil, h, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Serve(ctx); close(done) }()

	for i := 0; i < 33; i++ {
		d.Publish(song.Song{Title: "t", Length: 60 * time.Second})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		total := 0
		for _, s := range sizes {
			total += s
		}
		return total == 33
	}, time.Second, time.Millisecond)

	h.Shutdown()
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for _, s := range sizes {
		assert.LessOrEqual(t, s, BatchSize)
	}
}

// TestSuccessfulSendRetriesCacheForThatOutput pins spec.md §4.5's
// opportunistic-retry contract: an output that accepts a whole batch clean
// is healthy right now, so the dispatcher must give the cache a chance to
// replay whatever it still owes that output, not just leave accepted
// entries to rot until the next failure.
func TestSuccessfulSendRetriesCacheForThatOutput(t *testing.T) {
	h := wake.NewHandle()
	out := &recordingOutput{name: "o1"}
	cache := &recordingCache{}
	d := New([]Output{out}, cache, h, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Serve(ctx); close(done) }()

	d.Publish(song.Song{Title: "A", Length: 60 * time.Second})

	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return len(cache.retryCalls) == 1
	}, time.Second, time.Millisecond)

	h.Shutdown()
	cancel()
	<-done

	cache.mu.Lock()
	defer cache.mu.Unlock()
	require.Len(t, cache.retryCalls, 1)
	require.Len(t, cache.retryCalls[0], 1)
	assert.Equal(t, "o1", cache.retryCalls[0][0].Name())
}

func TestNoCacheNoOutputCallFails(t *testing.T) {
	h := wake.NewHandle()
	d := New(nil, nil, h, newTestLogger())
	// Publishing with zero outputs and no cache must not panic.
	d.Publish(song.Song{Title: "t", Length: 60 * time.Second})
	runUntilQuiescent(t, d)
}
