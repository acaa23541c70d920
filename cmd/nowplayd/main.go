// SPDX-License-Identifier: MIT

// nowplayd is the now-playing daemon: it polls configured input sources for
// the currently playing song, serializes sightings through a dispatcher,
// and submits them in batches to configured output sinks, retrying through
// a cache when a sink rejects a batch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nowplayd/nowplayd/internal/config"
	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/daemon"
	"github.com/nowplayd/nowplayd/internal/daemonize"
	"github.com/nowplayd/nowplayd/internal/httpout"
	"github.com/nowplayd/nowplayd/internal/lock"
	"github.com/nowplayd/nowplayd/internal/logrotate"
	"github.com/nowplayd/nowplayd/internal/memcache"
	"github.com/nowplayd/nowplayd/internal/modkit"
	"github.com/nowplayd/nowplayd/internal/mpdin"
	"github.com/nowplayd/nowplayd/internal/procsignal"
	"github.com/nowplayd/nowplayd/internal/settings"
	"github.com/nowplayd/nowplayd/internal/wake"
)

const (
	exitSuccess = 0
	exitError   = 1
)

// registry is the fixed, compiled-in set of module types config.Load may
// instantiate by name, per spec.md's "not a general module system"
// non-goal (no dlopen, no plugin discovery).
func registry(h *wake.Handle, log *corelog.Logger) config.Registry {
	return config.Registry{
		"http": func(name string) modkit.Module { return httpout.New(name, log) },
		"mem":  func(name string) modkit.Module { return memcache.New(name, log) },
		"mpd":  func(name string) modkit.Module { return mpdin.New(name, log, h) },
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the daemon's entire lifecycle, extracted from main for
// testability: parse args, load config, daemonize, acquire the
// single-instance lock, build and start the module chain, then block until
// a terminating signal arrives. Returns the process exit code, matching
// music.c's "0 on clean shutdown, 1 on config/startup/open error" contract.
func run(args []string) int {
	fs := flag.NewFlagSet("nowplayd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	settingsPath := fs.String("settings", "/etc/nowplayd/settings.yaml", "path to the ambient settings YAML file")
	daemonizeFlag := fs.Bool("daemonize", false, "double-fork and detach from the controlling terminal")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitSuccess
		}
		return exitError
	}
	configArgs := fs.Args()

	sLoader, sSettings, err := loadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nowplayd: %v\n", err)
		return exitError
	}

	r, closeConfig, err := openConfigInput(configArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nowplayd: %v\n", err)
		return exitError
	}
	defer closeConfig()

	log := corelog.New("nowplayd", os.Stderr, corelog.Notice)
	h := wake.NewHandle()

	res, err := config.Load(r, registry(h, log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "nowplayd: config: %v\n", err)
		return exitError
	}
	log.SetThreshold(res.Core.Loglevel)

	if res.Core.Logfile != "" {
		rot, err := logrotate.New(res.Core.Logfile,
			logrotate.WithMaxSize(sSettings.Rotation.MaxSizeBytes),
			logrotate.WithMaxBackups(sSettings.Rotation.MaxBackups),
			logrotate.WithCompress(sSettings.Rotation.Compress),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nowplayd: open logfile: %v\n", err)
			return exitError
		}
		defer rot.Close()
		log.SetOutput(rot)
	}

	fl, err := lock.NewFileLock(sSettings.Lock.Path)
	if err != nil {
		log.Fatalf("lock: %v", err)
		return exitError
	}
	if err := fl.Acquire(lock.DefaultAcquireTimeout); err != nil {
		log.Fatalf("lock: acquire %s: %v", sSettings.Lock.Path, err)
		return exitError
	}
	defer fl.Release()

	if *daemonizeFlag {
		if err := daemonize.Daemonize(); err != nil {
			log.Fatalf("daemonize: %v", err)
			return exitError
		}
	}

	watcher := procsignal.New(log, h)
	watcher.Start()
	defer watcher.Stop()

	healthAddr := ""
	if sSettings.Health.Enabled {
		healthAddr = sSettings.Health.Addr
	}
	var watchLoader *settings.Loader
	if *settingsPath != "" {
		watchLoader = sLoader
	}

	d := daemon.New(res, log, h, watchLoader, healthAddr)
	if err := d.Start(context.Background()); err != nil {
		if h.ShuttingDown() {
			log.Noticef("daemon: shutdown signalled during startup: %v", err)
			return exitSuccess
		}
		log.Fatalf("daemon: %v", err)
		return exitError
	}
	return exitSuccess
}

func loadSettings(path string) (*settings.Loader, settings.Settings, error) {
	l, err := settings.NewLoader(settings.WithYAMLFile(path))
	if err != nil {
		return nil, settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s, err := l.Load()
	if err != nil {
		return nil, settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return l, s, nil
}

// openConfigInput opens args[0] as the config file, or falls back to
// stdin with no arguments, matching music.c's "music [config-file ...]"
// usage (only the first file argument is honored; the CLI takes one
// config source).
func openConfigInput(args []string) (*os.File, func(), error) {
	if len(args) == 0 {
		return os.Stdin, func() {}, nil
	}
	path := filepath.Clean(args[0])
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open config file %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `nowplayd - now-playing collector and submitter daemon

USAGE:
    nowplayd [OPTIONS] [config-file]

    With no config-file argument, configuration is read from stdin.

OPTIONS:
    --settings PATH    Path to the ambient settings YAML file
                        (default: /etc/nowplayd/settings.yaml)
    --daemonize         Detach from the controlling terminal
    -h, --help          Show this help message

EXIT STATUS:
    0    clean shutdown, including a shutdown signal received during startup
    1    configuration, startup, or open error
`)
}
