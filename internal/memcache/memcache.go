// Package memcache implements the cache module contract (spec.md §4.5): an
// in-memory, pointer-identity-keyed store of (song, still-pending-outputs)
// entries, with opportunistic retry when an output reports itself healthy
// again.
//
// Grounded on original_source/dispatcher.c's cache-routing call
// (m->core->next->song.cache) and music-impl.c's music_retry_cached. No
// in-pack cache library (an LRU/TTL eviction cache) fits this contract: the
// retention policy here is correctness-driven ("keep until every required
// output has accepted"), not size- or time-bounded, so adopting a
// general-purpose cache library would fight the contract rather than serve
// it — see DESIGN.md.
package memcache

import (
	"context"
	"sync"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/dispatcher"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/song"
)

type entry struct {
	song    song.Song
	pending map[dispatcher.Output]struct{}
}

// Cache is the in-memory cache module.
type Cache struct {
	mu      sync.Mutex
	name    string
	entries []*entry
	log     *corelog.Logger
}

// New returns a cache module named name.
func New(name string, log *corelog.Logger) *Cache {
	return &Cache{name: name, log: log}
}

// Name implements modkit.Module.
func (c *Cache) Name() string { return c.name }

// SetName lets the "name" config directive override the factory-assigned
// default name.
func (c *Cache) SetName(name string) { c.name = name }

// Kind implements modkit.Module.
func (c *Cache) Kind() modkit.Kind { return modkit.Cache }

// Configure implements modkit.Module. This cache takes no options.
func (c *Cache) Configure(key, val string) error { return nil }

// Start implements modkit.Module.
func (c *Cache) Start(ctx context.Context) error { return nil }

// Stop implements modkit.Module.
func (c *Cache) Stop() {}

// Store remembers s as pending for every output in failedOutputs.
func (c *Cache) Store(s song.Song, failedOutputs []dispatcher.Output) {
	if len(failedOutputs) == 0 {
		return
	}
	pending := make(map[dispatcher.Output]struct{}, len(failedOutputs))
	for _, o := range failedOutputs {
		pending[o] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, &entry{song: s, pending: pending})
}

// Pending reports the number of entries still awaiting at least one output,
// for health reporting.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RetryFor resubmits pending entries destined for any of outputs. An entry
// that is accepted by every output it still owes is dropped; one that
// fails again for a given output remains pending for that output.
func (c *Cache) RetryFor(outputs []dispatcher.Output) {
	if len(outputs) == 0 {
		return
	}
	targets := make(map[dispatcher.Output]struct{}, len(outputs))
	for _, o := range outputs {
		targets[o] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	for _, e := range c.entries {
		for o := range targets {
			if _, owed := e.pending[o]; !owed {
				continue
			}
			res := o.Send(context.Background(), []song.Song{e.song})
			accepted := !res.AllFailed && len(res.FailedPositions) == 0
			if accepted {
				delete(e.pending, o)
				c.log.Debugf("memcache: %s accepted retried song %q", o.Name(), e.song.Title)
			}
		}
		if len(e.pending) > 0 {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}
