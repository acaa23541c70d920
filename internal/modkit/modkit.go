// Package modkit implements the module registry and lifecycle: a typed set
// of pluggable Cache/Output/Input modules, a stable bucket sort into
// Cache → Output → Input declaration order, and a startup/shutdown
// algorithm with rollback on failure.
//
// The Core kind from the original design (spec.md §3) has no separate
// lifecycle of its own in this implementation: its responsibilities — the
// dispatcher and the logger — are long-lived values owned directly by
// internal/daemon, not modules started and stopped through this registry.
package modkit

import (
	"context"
	"fmt"
)

// Kind identifies a module's place in the fixed taxonomy.
type Kind int

const (
	Cache Kind = iota
	Output
	Input
)

func (k Kind) String() string {
	switch k {
	case Cache:
		return "cache"
	case Output:
		return "output"
	case Input:
		return "input"
	default:
		return "unknown"
	}
}

// Module is one pluggable component. Configure is called once per config
// line addressed to the module while it is the "current" module being
// configured, and once more with key == "" at end-of-block so the module
// can validate the full set of options it received; returning an error at
// that final call aborts startup.
//
// Stop must be idempotent and must cause any goroutine the module owns to
// return promptly; it is invoked after shutdown has been signalled.
type Module interface {
	Name() string
	Kind() Kind
	Configure(key, value string) error
	Start(ctx context.Context) error
	Stop()
}

// Chain holds modules in declaration order prior to sorting.
type Chain struct {
	modules []Module
}

// Add appends m in declaration order.
func (c *Chain) Add(m Module) {
	c.modules = append(c.modules, m)
}

// Sorted returns modules bucketed Cache → Output → Input, stable within
// each bucket (declaration order preserved).
func (c *Chain) Sorted() []Module {
	buckets := [3][]Module{}
	for _, m := range c.modules {
		k := m.Kind()
		if k < Cache || k > Input {
			continue
		}
		buckets[k] = append(buckets[k], m)
	}
	out := make([]Module, 0, len(c.modules))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}

// StartResult reports the outcome of StartAll.
type StartResult struct {
	// ActiveCache is the single cache module that started successfully, or
	// nil if none did.
	ActiveCache Module
	// Started holds every module that was successfully started, in start
	// order. A failed startup unwinds it in reverse; StopAll walks it
	// forward for the steady-state shutdown.
	Started []Module
}

// ShutdownSignalled lets the caller report that a shutdown arrived during
// startup, so StartAll can treat it exactly like a start failure and unwind.
type ShutdownSignalled func() bool

// StartAll runs the startup algorithm from spec.md §4.2:
//  1. Start the first cache in declaration order; discard failed candidates
//     and all further caches once one succeeds.
//  2. Abort if requireCache is set and no cache started.
//  3. Start every output, then invoke onModulesReady (if non-nil) with the
//     in-progress result — every started cache/output and nothing else —
//     so the caller can wire anything that depends on the final
//     output/cache set (the dispatcher, concretely) before any input
//     starts publishing to it. Then start every input.
//  4. Any failure unwinds everything already started, in reverse order. A
//     shutdown observed at any point is treated as a failure.
//
// On error the returned StartResult is nil and every module that had
// started has already been stopped; the caller only needs to propagate the
// error.
func StartAll(ctx context.Context, chain *Chain, requireCache bool, shuttingDown ShutdownSignalled, onModulesReady func(*StartResult)) (*StartResult, error) {
	res := &StartResult{}
	sorted := chain.Sorted()

	rollback := func(cause error) error {
		for i := len(res.Started) - 1; i >= 0; i-- {
			res.Started[i].Stop()
		}
		res.Started = nil
		res.ActiveCache = nil
		return cause
	}

	var outputs, inputs []Module
	cacheStarted := false
	for _, m := range sorted {
		switch m.Kind() {
		case Output:
			outputs = append(outputs, m)
			continue
		case Input:
			inputs = append(inputs, m)
			continue
		}
		if cacheStarted {
			continue // excess caches after one succeeded are simply not started
		}
		if shuttingDown() {
			return nil, rollback(fmt.Errorf("modkit: shutdown signalled during startup"))
		}
		if err := m.Start(ctx); err != nil {
			continue // try the next cache candidate
		}
		res.Started = append(res.Started, m)
		res.ActiveCache = m
		cacheStarted = true
	}
	if requireCache && !cacheStarted {
		return nil, rollback(fmt.Errorf("modkit: requirecache set but no cache module started"))
	}

	for _, m := range outputs {
		if shuttingDown() {
			return nil, rollback(fmt.Errorf("modkit: shutdown signalled during startup"))
		}
		if err := m.Start(ctx); err != nil {
			return nil, rollback(fmt.Errorf("modkit: error starting module %q: %w", m.Name(), err))
		}
		res.Started = append(res.Started, m)
	}

	if shuttingDown() {
		return nil, rollback(fmt.Errorf("modkit: shutdown signalled during startup"))
	}

	if onModulesReady != nil {
		onModulesReady(res)
	}

	for _, m := range inputs {
		if shuttingDown() {
			return nil, rollback(fmt.Errorf("modkit: shutdown signalled during startup"))
		}
		if err := m.Start(ctx); err != nil {
			return nil, rollback(fmt.Errorf("modkit: error starting module %q: %w", m.Name(), err))
		}
		res.Started = append(res.Started, m)
	}

	if shuttingDown() {
		return nil, rollback(fmt.Errorf("modkit: shutdown signalled during startup"))
	}

	return res, nil
}

// StopAll stops every started module in the order given, as spec.md
// §4.2 requires ("stop is invoked ... in forward chain order" for the
// steady-state shutdown path — callers pass Started in chain/forward order
// here and StopAll walks it forward, matching music.c's finishNoSig loop).
func StopAll(started []Module) {
	for _, m := range started {
		m.Stop()
	}
}
