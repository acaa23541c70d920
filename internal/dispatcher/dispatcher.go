// Package dispatcher implements the song dispatcher: the single core
// component that drains published songs, batches them, fans each batch out
// to every configured output, and routes per-song failures to the active
// cache module.
//
// Grounded on original_source/dispatcher.c's submit_songs_and_cache and
// module_run_cache, re-specified per spec.md: one queue, FIFO order
// preserved end to end, and the 32-song batch bound enforced whether or not
// a cache is active.
package dispatcher

import (
	"context"
	"sync"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/song"
	"github.com/nowplayd/nowplayd/internal/wake"
)

// BatchSize is the fixed batch ceiling, tied to the 32-bit failure bitmask
// width used conceptually by the failure matrix (spec.md §3, §9).
const BatchSize = 32

// SendResult is what an Output reports back for one Send call.
type SendResult struct {
	// FailedPositions holds the indices, within the batch just sent, of
	// songs the output failed to accept.
	FailedPositions []int
	// AllFailed is the -1 sentinel from spec.md §4.6: no network attempt
	// could be made at all (e.g. still inside a backoff window). Every
	// song in the batch is treated as failed.
	AllFailed bool
}

// Output is the contract every output module satisfies.
type Output interface {
	Name() string
	Send(ctx context.Context, batch []song.Song) SendResult
}

// Cache is the contract the single active cache module satisfies.
type Cache interface {
	Store(s song.Song, failedOutputs []Output)
	RetryFor(outputs []Output)
}

// Dispatcher is the fan-out core. One instance owns one queue and runs one
// drain goroutine via Serve.
type Dispatcher struct {
	mu    sync.Mutex
	queue []song.Song

	signal chan struct{}
	wake   *wake.Handle
	log    *corelog.Logger

	outputs []Output
	cache   Cache // nil when no cache is active
}

// New constructs a Dispatcher. outputs is used in declaration order for
// fan-out, matching the per-batch visitation order guarantee in spec.md §5.
// cache may be nil if no cache module started.
func New(outputs []Output, cache Cache, h *wake.Handle, log *corelog.Logger) *Dispatcher {
	return &Dispatcher{
		signal:  make(chan struct{}, 1),
		wake:    h,
		log:     log,
		outputs: outputs,
		cache:   cache,
	}
}

// Publish applies the ingress filter, copies the song, enqueues it, and
// wakes the drain loop. Songs failing validation are logged and dropped
// before ever reaching the queue.
func (d *Dispatcher) Publish(s song.Song) {
	if err := song.Validate(s); err != nil {
		d.log.Noticef("dispatcher: dropping song %q: %v", s.Title, err)
		return
	}
	cp := s.Clone()
	d.mu.Lock()
	d.queue = append(d.queue, cp)
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// QueueDepth reports the number of songs currently queued, for health
// reporting.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Serve drains the queue until ctx is cancelled or shutdown is signalled. It
// implements the suture.Service shape (Serve(ctx) error) so internal/daemon
// can supervise it directly.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		if d.wake.ShuttingDown() {
			return nil
		}

		d.mu.Lock()
		drained := d.queue
		d.queue = nil
		d.mu.Unlock()

		if len(drained) == 0 {
			select {
			case <-d.signal:
				continue
			case <-d.wake.Done():
				return nil
			case <-ctx.Done():
				return nil
			}
		}

		d.processDrained(ctx, drained)
	}
}

// processDrained batches the whole drained slice at BatchSize and fans each
// batch out, routing failures to the cache.
func (d *Dispatcher) processDrained(ctx context.Context, drained []song.Song) {
	for start := 0; start < len(drained); start += BatchSize {
		end := start + BatchSize
		if end > len(drained) {
			end = len(drained)
		}
		d.sendBatch(ctx, drained[start:end])
	}
}

func (d *Dispatcher) sendBatch(ctx context.Context, batch []song.Song) {
	// failedBy[j] = set of outputs that failed song j, built in declaration
	// order so iteration order for the cache.Store call is deterministic.
	failedBy := make([][]Output, len(batch))

	for _, out := range d.outputs {
		res := out.Send(ctx, batch)
		switch {
		case res.AllFailed || len(res.FailedPositions) >= len(batch):
			for j := range batch {
				failedBy[j] = append(failedBy[j], out)
			}
		case len(res.FailedPositions) == 0:
			// out accepted the whole batch: it's healthy right now, so give
			// the cache a chance to replay anything still owed to it before
			// moving on to the next output.
			if d.cache != nil {
				d.cache.RetryFor([]Output{out})
			}
		default:
			for _, j := range res.FailedPositions {
				if j < 0 || j >= len(batch) {
					continue
				}
				failedBy[j] = append(failedBy[j], out)
			}
		}
	}

	if d.cache == nil {
		return
	}
	for j, outs := range failedBy {
		if len(outs) == 0 {
			continue
		}
		d.cache.Store(batch[j], outs)
	}
}

// RetryFor asks the active cache to replay pending songs for the given
// outputs. A no-op if no cache is active.
func (d *Dispatcher) RetryFor(outputs []Output) {
	if d.cache == nil {
		return
	}
	d.cache.RetryFor(outputs)
}
