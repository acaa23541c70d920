// Package procsignal wires OS signals to the daemon's cooperative shutdown
// handle.
//
// Grounded on original_source/music.c's got_sig/ignore_sig: the first
// terminating signal flips the running flag and is remembered; a second
// one aborts the process rather than wait on an already-stuck shutdown.
// SIGALRM is a documented no-op in the original and is preserved as one
// here even though nothing currently sends it to this daemon.
package procsignal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/wake"
)

// terminating lists the signals that trigger shutdown, mirroring
// music.c's SIGHUP/SIGINT/SIGILL/SIGQUIT/SIGSEGV/SIGTERM registration.
var terminating = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGILL,
	syscall.SIGQUIT,
	syscall.SIGSEGV,
	syscall.SIGTERM,
}

// Watcher listens for terminating signals and triggers handle.Shutdown on
// the first one it sees. A second terminating signal aborts the process
// immediately, matching the original's abort() call on signal re-entry.
type Watcher struct {
	log    *corelog.Logger
	handle *wake.Handle

	mu  sync.Mutex
	sig os.Signal

	ch   chan os.Signal
	done chan struct{}
}

// New creates a signal watcher bound to handle. Call Start to begin
// listening.
func New(log *corelog.Logger, handle *wake.Handle) *Watcher {
	return &Watcher{
		log:    log,
		handle: handle,
		ch:     make(chan os.Signal, 4),
		done:   make(chan struct{}),
	}
}

// Start begins listening for terminating signals in a background
// goroutine. It also arms and immediately ignores SIGALRM, matching the
// original's explicit ignore_sig registration for that signal.
func (w *Watcher) Start() {
	signal.Notify(w.ch, terminating...)

	ignoreCh := make(chan os.Signal, 1)
	signal.Notify(ignoreCh, syscall.SIGALRM)
	go func() {
		for range ignoreCh {
		}
	}()

	go w.run()
}

// Stop stops listening for signals.
func (w *Watcher) Stop() {
	signal.Stop(w.ch)
	close(w.ch)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	for sig := range w.ch {
		w.mu.Lock()
		first := w.sig == nil
		if first {
			w.sig = sig
		}
		w.mu.Unlock()

		if !first {
			if w.log != nil {
				w.log.Fatalf("got signal %v while already shutting down; aborting", sig)
			}
			os.Exit(1)
		}

		if w.log != nil {
			w.log.Noticef("got signal %v; shutting down", sig)
		}
		w.handle.Shutdown()
	}
}

// Signal reports the signal that triggered shutdown, or nil if none has
// arrived yet.
func (w *Watcher) Signal() os.Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sig
}
