// Package diagnose implements nowplayd-diagnose's preflight checks: a
// trimmed descendant of the teacher's internal/diagnostics package, cut
// down from its 24 hardware/service checks to the handful that make sense
// for a daemon with no audio-hardware surface of its own — does the config
// file parse, are the log and lock directories writable, and are the
// configured network endpoints (HTTP outputs, MPD inputs) reachable.
package diagnose

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nowplayd/nowplayd/internal/config"
	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/httpout"
	"github.com/nowplayd/nowplayd/internal/memcache"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/mpdin"
	"github.com/nowplayd/nowplayd/internal/wake"
)

// Status mirrors the teacher's CheckStatus, trimmed to the outcomes a
// reachability/writability probe can actually produce (no WARNING tier:
// every check here is a hard prerequisite, not a soft threshold).
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// CheckResult is one probe's outcome.
type CheckResult struct {
	Name    string
	Status  Status
	Message string
}

// Report is the full run's outcome.
type Report struct {
	Timestamp time.Time
	Duration  time.Duration
	Checks    []CheckResult
	Healthy   bool
}

// Options configures a Runner.
type Options struct {
	ConfigPath string
	LogDir     string
	LockDir    string
	// DialTimeout bounds each network reachability probe.
	DialTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		LogDir:      "/var/log",
		LockDir:     "/var/run",
		DialTimeout: 2 * time.Second,
	}
}

// Runner executes the preflight checks.
type Runner struct {
	opts Options
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	return &Runner{opts: opts}
}

// Run executes every check in order, parsing the configured module chain
// once up front; the network-reachability checks are skipped (not failed)
// when the config itself didn't parse, since there is no chain to probe.
func (r *Runner) Run(ctx context.Context) *Report {
	start := time.Now()
	report := &Report{Timestamp: start}

	res, configCheck := r.checkConfigParses()
	report.Checks = append(report.Checks, configCheck)

	report.Checks = append(report.Checks, r.checkDirWritable("log directory", r.opts.LogDir))
	report.Checks = append(report.Checks, r.checkDirWritable("lock directory", r.opts.LockDir))

	if res != nil {
		report.Checks = append(report.Checks, r.checkHTTPOutputs(ctx, res.Chain)...)
		report.Checks = append(report.Checks, r.checkMPDInputs(ctx, res.Chain)...)
	}

	report.Duration = time.Since(start)
	report.Healthy = true
	for _, c := range report.Checks {
		if c.Status != StatusOK {
			report.Healthy = false
			break
		}
	}
	return report
}

// diagnoseRegistry builds a throwaway module chain purely to validate
// syntax and option values; none of these modules are ever started.
func diagnoseRegistry() config.Registry {
	log := corelog.New("nowplayd-diagnose", io.Discard, corelog.Fatal)
	h := wake.NewHandle()
	return config.Registry{
		"http": func(name string) modkit.Module { return httpout.New(name, log) },
		"mem":  func(name string) modkit.Module { return memcache.New(name, log) },
		"mpd":  func(name string) modkit.Module { return mpdin.New(name, log, h) },
	}
}

func (r *Runner) checkConfigParses() (*config.Result, CheckResult) {
	name := "config file parses"
	if r.opts.ConfigPath == "" {
		return nil, CheckResult{Name: name, Status: StatusError, Message: "no config path given"}
	}
	f, err := os.Open(r.opts.ConfigPath)
	if err != nil {
		return nil, CheckResult{Name: name, Status: StatusError, Message: err.Error()}
	}
	defer f.Close()

	res, err := config.Load(f, diagnoseRegistry())
	if err != nil {
		return nil, CheckResult{Name: name, Status: StatusError, Message: err.Error()}
	}
	return res, CheckResult{Name: name, Status: StatusOK, Message: "parsed without error"}
}

func (r *Runner) checkDirWritable(name, dir string) CheckResult {
	if dir == "" {
		return CheckResult{Name: name, Status: StatusError, Message: "no path configured"}
	}
	probe := filepath.Join(dir, ".nowplayd-diagnose-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return CheckResult{Name: name, Status: StatusOK, Message: dir}
}

func (r *Runner) checkHTTPOutputs(ctx context.Context, chain *modkit.Chain) []CheckResult {
	var results []CheckResult
	for _, m := range chain.Sorted() {
		out, ok := m.(*httpout.Output)
		if !ok {
			continue
		}
		name := fmt.Sprintf("http output %q reachable", out.Name())
		results = append(results, r.checkURLReachable(ctx, name, out.URL()))
	}
	return results
}

func (r *Runner) checkMPDInputs(ctx context.Context, chain *modkit.Chain) []CheckResult {
	var results []CheckResult
	for _, m := range chain.Sorted() {
		in, ok := m.(*mpdin.Input)
		if !ok {
			continue
		}
		name := fmt.Sprintf("mpd input %q reachable", in.Name())
		results = append(results, r.checkTCPReachable(ctx, name, in.Addr()))
	}
	return results
}

func (r *Runner) checkURLReachable(ctx context.Context, name, rawURL string) CheckResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: fmt.Sprintf("invalid url %q: %v", rawURL, err)}
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host = net.JoinHostPort(u.Hostname(), "443")
		} else {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return r.checkTCPReachable(ctx, name, host)
}

func (r *Runner) checkTCPReachable(ctx context.Context, name, addr string) CheckResult {
	d := net.Dialer{Timeout: r.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return CheckResult{Name: name, Status: StatusError, Message: err.Error()}
	}
	conn.Close()
	return CheckResult{Name: name, Status: StatusOK, Message: addr}
}
