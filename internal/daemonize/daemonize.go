//go:build linux

// Package daemonize implements the classic double-fork daemonization
// sequence: detach from the controlling terminal, become a session
// leader, and redirect the standard file descriptors to /dev/null.
//
// Grounded on original_source/music.c's main(): fork, setsid, fork again,
// chdir("/"), close every fd above stderr, then reopen stdin/stdout on
// /dev/null while leaving stderr attached to whatever the caller's stderr
// already was (log lines go to the logfile through corelog's writer, not
// through stderr).
package daemonize

import (
	"fmt"
	"os"
	"syscall"
)

// Daemonize detaches the current process from its controlling terminal
// and re-execs as a session leader, following the original's double-fork
// pattern. It must be called before any goroutines that must not be
// duplicated into the child are started — cmd/nowplayd calls it after
// loading the config and taking the PID lock, before starting the signal
// watcher and the module chain.
//
// Unlike the C original, Go's runtime does not support fork() safely once
// multiple goroutines are running (only the calling thread survives a raw
// fork in the child), so this re-execs the current binary instead of
// calling fork(2) twice. The net effect on process topology — original
// process exits, child is a new session leader detached from the
// terminal — is the same.
func Daemonize() error {
	if os.Getenv(reexecEnv) == "1" {
		return finishDaemonization()
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: resolve executable: %w", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemonize: open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	attr := &os.ProcAttr{
		Dir: "/",
		Env: append(os.Environ(), reexecEnv+"=1"),
		Files: []*os.File{
			devnull,
			devnull,
			os.Stderr,
		},
		Sys: &syscall.SysProcAttr{
			Setsid: true,
		},
	}

	proc, err := os.StartProcess(exe, os.Args, attr)
	if err != nil {
		return fmt.Errorf("daemonize: start child: %w", err)
	}
	_ = proc.Release()

	os.Exit(0)
	return nil
}

const reexecEnv = "NOWPLAYD_DAEMONIZED"

// finishDaemonization performs the steps that the original ran in the
// grandchild after the second fork: chdir("/") (already set via
// ProcAttr.Dir in the parent's StartProcess call, redone here for
// belt-and-braces since os.Getwd is cheap) and closing any inherited fds
// above stderr.
func finishDaemonization() error {
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("daemonize: chdir /: %w", err)
	}
	closeExtraFDs()
	return nil
}

// closeExtraFDs closes inherited file descriptors above stderr, mirroring
// the original's sysconf(_SC_OPEN_MAX) loop. Best-effort: a descriptor
// that was never open simply fails to close, which is not an error here.
func closeExtraFDs() {
	maxFD := 1024
	var rlim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim); err == nil && rlim.Cur > 0 {
		maxFD = int(rlim.Cur)
	}
	for fd := 3; fd < maxFD; fd++ {
		syscall.Close(fd)
	}
}
