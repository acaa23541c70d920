package mpdin

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/song"
	"github.com/nowplayd/nowplayd/internal/wake"
)

func newTestLogger() *corelog.Logger {
	return corelog.New("test", io.Discard, corelog.Debug)
}

type recordingPublisher struct {
	mu     sync.Mutex
	songs  []song.Song
}

func (p *recordingPublisher) Publish(s song.Song) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.songs = append(p.songs, s)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.songs)
}

type fakeMPDClient struct {
	mu     sync.Mutex
	status mpd.Attrs
	song   mpd.Attrs
	closed bool
}

func (f *fakeMPDClient) Status() (mpd.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeMPDClient) CurrentSong() (mpd.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.song, nil
}

func (f *fakeMPDClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMPDClient) setPlaying(id, elapsed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = mpd.Attrs{"state": "play", "songid": id, "elapsed": elapsed}
}

func TestConfigureRequiresHost(t *testing.T) {
	in := New("mpd1", newTestLogger(), wake.NewHandle())
	in.SetPublisher(&recordingPublisher{})
	err := in.Configure("", "")
	assert.Error(t, err)
}

func TestPollPublishesOn30thSighting(t *testing.T) {
	pub := &recordingPublisher{}
	in := New("mpd1", newTestLogger(), wake.NewHandle())
	in.SetPublisher(pub)
	require.NoError(t, in.Configure("host", "localhost"))
	require.NoError(t, in.Configure("", ""))

	client := &fakeMPDClient{
		song: mpd.Attrs{"Title": "Track", "Artist": "Band", "Time": "200"},
	}
	client.setPlaying("42", "1.0")

	for i := 0; i < SightingsToPublish-1; i++ {
		require.NoError(t, in.poll(client))
		assert.Equal(t, 0, pub.count())
	}
	require.NoError(t, in.poll(client))
	assert.Equal(t, 1, pub.count())

	require.NoError(t, in.poll(client))
	assert.Equal(t, 1, pub.count(), "should not re-publish the same id")
}

func TestPollResetsOnIDChange(t *testing.T) {
	pub := &recordingPublisher{}
	in := New("mpd1", newTestLogger(), wake.NewHandle())
	in.SetPublisher(pub)
	require.NoError(t, in.Configure("host", "localhost"))
	require.NoError(t, in.Configure("", ""))

	client := &fakeMPDClient{song: mpd.Attrs{"Title": "A", "Time": "200"}}
	client.setPlaying("1", "0")
	for i := 0; i < SightingsToPublish/2; i++ {
		require.NoError(t, in.poll(client))
	}
	client.setPlaying("2", "0")
	require.NoError(t, in.poll(client))
	assert.Equal(t, 1, in.consecutive)
	assert.Equal(t, 2, in.lastID)
}

func TestPollIgnoresNonPlayState(t *testing.T) {
	pub := &recordingPublisher{}
	in := New("mpd1", newTestLogger(), wake.NewHandle())
	in.SetPublisher(pub)
	require.NoError(t, in.Configure("host", "localhost"))
	require.NoError(t, in.Configure("", ""))

	client := &fakeMPDClient{status: mpd.Attrs{"state": "stop"}}
	require.NoError(t, in.poll(client))
	assert.Equal(t, -1, in.lastID)
}

func TestStartStopJoinsGoroutine(t *testing.T) {
	pub := &recordingPublisher{}
	h := wake.NewHandle()
	in := New("mpd1", newTestLogger(), h)
	in.SetPublisher(pub)
	require.NoError(t, in.Configure("host", "127.0.0.1"))
	require.NoError(t, in.Configure("port", "1")) // nothing listens here
	require.NoError(t, in.Configure("", ""))

	var dialCalls int
	var mu sync.Mutex
	in.dial = func(network, addr, password string) (mpdClient, error) {
		mu.Lock()
		dialCalls++
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	require.NoError(t, in.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	h.Shutdown()
	in.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, dialCalls, 1)
}

type panicOnStatusClient struct{}

func (panicOnStatusClient) Status() (mpd.Attrs, error) { panic("boom") }
func (panicOnStatusClient) CurrentSong() (mpd.Attrs, error) {
	return mpd.Attrs{}, nil
}
func (panicOnStatusClient) Close() error { return nil }

// TestPanicDuringPollIsRecovered asserts that a panic inside the poll
// goroutine is caught by Start's own recover rather than taking the test
// binary down with it, and that Stop still returns once the goroutine exits.
func TestPanicDuringPollIsRecovered(t *testing.T) {
	h := wake.NewHandle()
	in := New("mpd1", newTestLogger(), h)
	in.SetPublisher(&recordingPublisher{})
	require.NoError(t, in.Configure("host", "localhost"))
	require.NoError(t, in.Configure("", ""))

	in.dial = func(network, addr, password string) (mpdClient, error) {
		return panicOnStatusClient{}, nil
	}

	require.NoError(t, in.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		in.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after a panic in the poll goroutine")
	}
}

func TestAddrReportsConfiguredHostPort(t *testing.T) {
	in := New("mpd1", newTestLogger(), wake.NewHandle())
	require.NoError(t, in.Configure("host", "mpdhost"))
	require.NoError(t, in.Configure("port", "6601"))
	assert.Equal(t, "mpdhost:6601", in.Addr())
}
