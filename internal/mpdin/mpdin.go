// Package mpdin implements the MPD-polling input worker: it owns one
// background goroutine that polls an MPD server's status, tracks
// consecutive sightings of the currently-playing song id, and publishes a
// song once it has been seen stably for long enough.
//
// Grounded on original_source/in_mpd.c for the poll/sighting/backoff state
// machine, re-specified per spec.md §4.3. The MPD protocol client itself
// (github.com/fhs/gompd/v2/mpd) is the one genuinely domain-required
// dependency with no in-pack substitute.
package mpdin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/song"
	"github.com/nowplayd/nowplayd/internal/wake"
)

// PollInterval is the steady-state poll tick.
const PollInterval = time.Second

// SightingsToPublish is the number of consecutive poll ticks the same song
// id must be observed in "play" state before it is published.
const SightingsToPublish = 30

const (
	initialReconnectBackoff = 5 * time.Second
	maxReconnectBackoff     = 300 * time.Second
)

// Publisher is the dispatcher's ingress, satisfied by *dispatcher.Dispatcher.
type Publisher interface {
	Publish(s song.Song)
}

// mpdClient is the subset of *mpd.Client this package uses, so tests can
// substitute a fake without a real MPD server.
type mpdClient interface {
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
	Close() error
}

// dialFunc abstracts connection establishment for testability.
type dialFunc func(network, addr, password string) (mpdClient, error)

func defaultDial(network, addr, password string) (mpdClient, error) {
	if password != "" {
		return mpd.DialAuthenticated(network, addr, password)
	}
	return mpd.Dial(network, addr)
}

// Input is the MPD polling input module.
type Input struct {
	name string
	log  *corelog.Logger
	pub  Publisher
	wake *wake.Handle

	host     string
	port     string
	password string

	dial dialFunc

	done chan struct{}

	// sighting state, owned by the poll goroutine only.
	lastID        int
	consecutive   int
	startWallTime time.Time
	published     bool
}

// New constructs an unconfigured MPD input module. The publisher is bound
// separately via SetPublisher, since the dispatcher it feeds is only
// constructed once every output and cache module has started (see
// modkit.StartAll's onModulesReady hook).
func New(name string, log *corelog.Logger, h *wake.Handle) *Input {
	return &Input{
		name: name,
		log:  log,
		wake: h,
		port: "6600",
		dial: defaultDial,
	}
}

// SetPublisher binds the dispatcher this input publishes sightings to. It
// must be called before Start.
func (in *Input) SetPublisher(pub Publisher) { in.pub = pub }

// Name implements modkit.Module.
func (in *Input) Name() string { return in.name }

// SetName lets the "name" config directive override the factory-assigned
// default name.
func (in *Input) SetName(name string) { in.name = name }

// Kind implements modkit.Module.
func (in *Input) Kind() modkit.Kind { return modkit.Input }

// Addr returns the configured "host:port" this input polls, for callers
// (e.g. nowplayd-diagnose) that need to probe reachability.
func (in *Input) Addr() string { return in.addr() }

// Configure implements modkit.Module.
func (in *Input) Configure(key, val string) error {
	switch key {
	case "":
		if in.host == "" {
			return fmt.Errorf("mpdin %s: host is required", in.name)
		}
		return nil
	case "host":
		if val == "" {
			return fmt.Errorf("mpdin %s: host argument expected", in.name)
		}
		in.host = val
		return nil
	case "port":
		if val == "" {
			return fmt.Errorf("mpdin %s: port argument expected", in.name)
		}
		in.port = val
		return nil
	case "password":
		in.password = val
		return nil
	default:
		return fmt.Errorf("mpdin %s: unknown option %q", in.name, key)
	}
}

// Start implements modkit.Module: it spawns the poll goroutine. Unlike the
// dispatcher and the health/settings services, this goroutine runs outside
// suture's supervision (modkit.StartAll starts it directly), so its own
// recover keeps a panic here from taking the whole daemon down with it.
func (in *Input) Start(ctx context.Context) error {
	in.done = make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				// run's own defer close(in.done) has already fired by the
				// time a panic reaches here, during stack unwinding; only
				// logging is left to do.
				in.log.Errorf("mpdin %s: panic: %v\n%s", in.name, r, debug.Stack())
			}
		}()
		in.run(ctx)
	}()
	return nil
}

// Stop implements modkit.Module: it blocks until the poll goroutine returns.
func (in *Input) Stop() {
	if in.done != nil {
		<-in.done
	}
}

func (in *Input) addr() string {
	return fmt.Sprintf("%s:%s", in.host, in.port)
}

// run is the input worker's thread body, matching spec.md §4.3: sleep →
// exit if woken, else poll and reconnect-with-backoff on error.
func (in *Input) run(ctx context.Context) {
	defer close(in.done)

	backoff := initialReconnectBackoff
	var client mpdClient

	for {
		if in.wake.ShuttingDown() {
			if client != nil {
				client.Close()
			}
			return
		}

		if client == nil {
			c, err := in.dial("tcp", in.addr(), in.password)
			if err != nil {
				in.log.Warningf("mpdin %s: connect to %s failed: %v, retrying in %s", in.name, in.addr(), err, backoff)
				switch in.wake.Sleep(ctx, backoff) {
				case wake.Woken:
					return
				case wake.Timeout:
				}
				backoff *= 2
				if backoff > maxReconnectBackoff {
					backoff = maxReconnectBackoff
				}
				continue
			}
			client = c
			backoff = initialReconnectBackoff
			in.resetSighting()
		}

		if err := in.poll(client); err != nil {
			in.log.Warningf("mpdin %s: poll failed: %v", in.name, err)
			client.Close()
			client = nil
			continue
		}

		switch in.wake.Sleep(ctx, PollInterval) {
		case wake.Woken:
			if client != nil {
				client.Close()
			}
			return
		case wake.Timeout:
		}
	}
}

func (in *Input) resetSighting() {
	in.lastID = -1
	in.consecutive = 0
	in.published = false
}

// poll reads status once, updating sighting state and publishing a song on
// the 30th consecutive sighting of its id.
func (in *Input) poll(client mpdClient) error {
	status, err := client.Status()
	if err != nil {
		return err
	}

	if status["state"] != "play" {
		in.resetSighting()
		return nil
	}

	id, ok := parseInt(status["songid"])
	if !ok {
		in.resetSighting()
		return nil
	}

	if id != in.lastID {
		in.lastID = id
		in.consecutive = 1
		in.published = false
		elapsed := parseFloat(status["elapsed"])
		in.startWallTime = time.Now().Add(-time.Duration(elapsed * float64(time.Second)))
		return nil
	}

	if in.published {
		return nil
	}

	in.consecutive++
	if in.consecutive < SightingsToPublish {
		return nil
	}

	cur, err := client.CurrentSong()
	if err != nil {
		return err
	}
	in.publishSong(cur)
	in.published = true
	return nil
}

func (in *Input) publishSong(cur mpd.Attrs) {
	lengthSeconds, _ := parseInt(cur["Time"])
	length := time.Duration(lengthSeconds) * time.Second

	end := in.startWallTime.Add(length)
	if length <= time.Second {
		end = sentinelEndTime
	}

	in.pub.Publish(song.Song{
		Title:  cur["Title"],
		Artist: cur["Artist"],
		Album:  cur["Album"],
		Genre:  cur["Genre"],
		Start:  in.startWallTime,
		End:    end,
		Length: length,
	})
}

// sentinelEndTime marks "unknown end time" for a song whose reported length
// is too short to trust, per spec.md §4.3 ("or sentinel if length ≤ 1").
var sentinelEndTime = time.Unix(0, 0).UTC()
