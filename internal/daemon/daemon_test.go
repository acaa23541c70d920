package daemon

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nowplayd/nowplayd/internal/config"
	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/dispatcher"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/song"
	"github.com/nowplayd/nowplayd/internal/wake"
)

func newTestLogger() *corelog.Logger {
	return corelog.New("test", io.Discard, corelog.Debug)
}

type fakeOutputModule struct {
	name string
}

func (f *fakeOutputModule) Name() string                   { return f.name }
func (f *fakeOutputModule) Kind() modkit.Kind               { return modkit.Output }
func (f *fakeOutputModule) Configure(key, val string) error { return nil }
func (f *fakeOutputModule) Start(ctx context.Context) error { return nil }
func (f *fakeOutputModule) Stop()                           {}
func (f *fakeOutputModule) Send(ctx context.Context, batch []song.Song) dispatcher.SendResult {
	return dispatcher.SendResult{}
}

type fakeCacheModule struct {
	name    string
	pending int
}

func (f *fakeCacheModule) Name() string                   { return f.name }
func (f *fakeCacheModule) Kind() modkit.Kind               { return modkit.Cache }
func (f *fakeCacheModule) Configure(key, val string) error { return nil }
func (f *fakeCacheModule) Start(ctx context.Context) error { return nil }
func (f *fakeCacheModule) Stop()                           {}
func (f *fakeCacheModule) Store(s song.Song, failedOutputs []dispatcher.Output) {
	f.pending++
}
func (f *fakeCacheModule) RetryFor(outputs []dispatcher.Output) {}
func (f *fakeCacheModule) Pending() int                         { return f.pending }

func buildChain() *modkit.Chain {
	var c modkit.Chain
	c.Add(&fakeCacheModule{name: "cache1"})
	c.Add(&fakeOutputModule{name: "out1"})
	return &c
}

func TestStartWiresDispatcherAndReportsServices(t *testing.T) {
	res := &config.Result{Chain: buildChain()}
	h := wake.NewHandle()
	d := New(res, newTestLogger(), h, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.dispatcher != nil }, time.Second, 5*time.Millisecond)

	services := d.Services()
	assert.Len(t, services, 2)

	info := d.PipelineInfo()
	assert.Equal(t, 0, info.QueueDepth)
	assert.Equal(t, 0, info.CachePending)

	statuses := d.Statuses()
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.True(t, s.Healthy)
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

// TestStartReturnsOnWakeShutdownWithBackgroundContext exercises the path
// production actually uses: cmd/nowplayd calls d.Start(context.Background()),
// so Start must notice shutdown through the wake.Handle alone, the way
// procsignal.Watcher triggers it on a terminating signal — ctx itself never
// cancels. Without a wake.Done() case in Start's select, d.sup.Serve keeps
// restarting the dispatcher (which returns nil, not
// suture.ErrTerminateSupervisorTree, on shutdown) and Start never returns.
func TestStartReturnsOnWakeShutdownWithBackgroundContext(t *testing.T) {
	res := &config.Result{Chain: buildChain()}
	h := wake.NewHandle()
	d := New(res, newTestLogger(), h, nil, "")

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(context.Background()) }()

	require.Eventually(t, func() bool { return d.dispatcher != nil }, time.Second, 5*time.Millisecond)

	h.Shutdown()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after wake.Handle.Shutdown() with a background context")
	}
}

func TestStartFailsWhenRequireCacheAndNoneStarts(t *testing.T) {
	var c modkit.Chain
	c.Add(&fakeOutputModule{name: "out1"})
	res := &config.Result{Chain: &c, Core: config.Core{RequireCache: true}}

	d := New(res, newTestLogger(), wake.NewHandle(), nil, "")
	err := d.Start(context.Background())
	assert.Error(t, err)
}
