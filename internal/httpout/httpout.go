// Package httpout implements the HTTP submitter output module: a batched,
// authenticated POST client with a line-oriented reply protocol and
// per-error-class exponential backoff.
//
// Grounded on original_source/out_http.c for the wire format, auth field,
// and backoff algorithm, and on the teacher's internal/mediamtx/client.go
// for idiomatic Go net/http client construction (context-aware requests,
// functional options, explicit body close).
package httpout

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nowplayd/nowplayd/internal/authsig"
	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/dispatcher"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/song"
)

// MaxBodyBytes bounds one request body, matching the ~10KB fixed buffer in
// spec.md §4.6.
const MaxBodyBytes = 10 * 1024

const userAgent = "nowplayd-out-http/1.0 (+go net/http)"

// Output is the HTTP submitter output module.
type Output struct {
	mu sync.Mutex

	name string
	log  *corelog.Logger

	url         string
	username    string // already percent-escaped at config time
	rawPassword []byte
	hasAuth     bool
	verbose     bool

	client *http.Client

	backoff backoffState
}

// New constructs an unconfigured HTTP output module named name.
func New(name string, log *corelog.Logger) *Output {
	return &Output{
		name:   name,
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements modkit.Module and dispatcher.Output.
func (o *Output) Name() string { return o.name }

// SetName lets the "name" config directive override the factory-assigned
// default name.
func (o *Output) SetName(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.name = name
}

// Kind implements modkit.Module.
func (o *Output) Kind() modkit.Kind { return modkit.Output }

// URL returns the configured submission endpoint, for callers (e.g.
// nowplayd-diagnose) that need to probe reachability without sending a
// batch.
func (o *Output) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

// Configure implements modkit.Module. key == "" is the end-of-block
// validation call.
func (o *Output) Configure(key, val string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch key {
	case "":
		if o.url == "" {
			return fmt.Errorf("httpout %s: url is required", o.name)
		}
		if o.hasAuth && o.username == "" {
			return fmt.Errorf("httpout %s: password requires username", o.name)
		}
		if o.username != "" && !o.hasAuth {
			return fmt.Errorf("httpout %s: username requires password", o.name)
		}
		return nil
	case "url":
		if val == "" {
			return fmt.Errorf("httpout %s: url argument expected", o.name)
		}
		o.url = val
		return nil
	case "username":
		if val == "" {
			return fmt.Errorf("httpout %s: username argument expected", o.name)
		}
		if len(val) > 128 {
			return fmt.Errorf("httpout %s: username too long", o.name)
		}
		o.username = escape(val)
		return nil
	case "password":
		if val == "" {
			return fmt.Errorf("httpout %s: password argument expected", o.name)
		}
		o.rawPassword = authsig.RawPassword(val)
		o.hasAuth = true
		return nil
	case "verbose":
		o.verbose = true
		return nil
	default:
		return fmt.Errorf("httpout %s: unknown option %q", o.name, key)
	}
}

// Start implements modkit.Module. The HTTP submitter needs no background
// goroutine; the dispatcher calls Send synchronously.
func (o *Output) Start(ctx context.Context) error { return nil }

// Stop implements modkit.Module.
func (o *Output) Stop() {}

// Send submits batch, returning the positions (within batch) that failed.
// Grounded on original_source/out_http.c's module_send.
func (o *Output) Send(ctx context.Context, batch []song.Song) dispatcher.SendResult {
	if len(batch) == 0 {
		return dispatcher.SendResult{}
	}

	o.mu.Lock()
	inBackoff := o.backoff.inBackoff(time.Now())
	o.mu.Unlock()
	if inBackoff {
		return dispatcher.SendResult{AllFailed: true}
	}

	failed := make(map[int]bool, len(batch))
	var flushed []song.Song
	var flushedIdx []int // position within batch of each song in flushed

	flush := func() {
		if len(flushed) == 0 {
			return
		}
		outcome := o.post(ctx, flushed)
		for local, isFailed := range outcome.failedLocal {
			if isFailed {
				failed[flushedIdx[local]] = true
			}
		}
		o.mu.Lock()
		if outcome.protocolFailed {
			o.backoff.recordFailure(outcome.class, time.Now())
		} else {
			o.backoff.recordSuccess()
		}
		o.mu.Unlock()
		flushed = nil
		flushedIdx = nil
	}

	authLen := 0
	if o.hasAuth && o.username != "" {
		authLen = len(o.authField(time.Now()))
	}

	bodyLen := authLen
	for i, s := range batch {
		field := addSongField(len(flushed) == 0 && authLen == 0, s)
		prospective := bodyLen + len(field)
		if prospective > MaxBodyBytes || len(flushed) >= dispatcher.BatchSize {
			if len(flushed) == 0 {
				o.log.Warningf("httpout %s: song %q does not fit in an empty request buffer, skipping", o.name, s.Title)
				failed[i] = true
				continue
			}
			flush()
			bodyLen = authLen
			field = addSongField(authLen == 0, s)
			prospective = bodyLen + len(field)
			if prospective > MaxBodyBytes {
				o.log.Warningf("httpout %s: song %q does not fit in an empty request buffer, skipping", o.name, s.Title)
				failed[i] = true
				continue
			}
		}
		flushed = append(flushed, s)
		flushedIdx = append(flushedIdx, i)
		bodyLen = prospective
	}
	flush()

	positions := make([]int, 0, len(failed))
	for idx := range failed {
		positions = append(positions, idx)
	}
	return dispatcher.SendResult{FailedPositions: positions}
}

func (o *Output) authField(now time.Time) string {
	hexTime := authsig.HexTime(now)
	sig := authsig.Sign(o.rawPassword, hexTime)
	return fmt.Sprintf("auth=pass:%s:%s:%s", o.username, hexTime, sig)
}

func addSongField(first bool, s song.Song) string {
	var sb strings.Builder
	if !first {
		sb.WriteByte('&')
	}
	sb.WriteString("song[]=")
	sb.WriteString(escape(s.Title))
	sb.WriteByte(':')
	sb.WriteString(escape(s.Artist))
	sb.WriteByte(':')
	sb.WriteString(escape(s.Album))
	sb.WriteByte(':')
	sb.WriteString(escape(s.Genre))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(int64(s.Length.Seconds()), 16))
	sb.WriteByte(':')
	sb.WriteString(strconv.FormatInt(s.End.Unix(), 16))
	return sb.String()
}

// post performs one HTTP POST for the given sub-batch and parses the reply.
func (o *Output) post(ctx context.Context, batch []song.Song) replyOutcome {
	o.mu.Lock()
	url := o.url
	hasAuth := o.hasAuth && o.username != ""
	verbose := o.verbose
	o.mu.Unlock()

	var body strings.Builder
	if hasAuth {
		body.WriteString(o.authField(time.Now()))
	}
	for i, s := range batch {
		body.WriteString(addSongField(i == 0 && !hasAuth, s))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body.String()))
	if err != nil {
		return replyOutcome{failedLocal: allIndices(len(batch)), protocolFailed: true, class: Transport}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/x-music")
	req.Header.Set("User-Agent", userAgent)

	if verbose {
		o.log.Debugf("httpout %s: POST %s (%d bytes, %d songs)", o.name, url, body.Len(), len(batch))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.log.Warningf("httpout %s: transport error: %v", o.name, err)
		return replyOutcome{failedLocal: allIndices(len(batch)), protocolFailed: true, class: Transport}
	}
	defer drainAndClose(resp.Body)

	return parseReply(resp, len(batch), o.log)
}

func allIndices(n int) map[int]bool {
	m := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		m[i] = true
	}
	return m
}
