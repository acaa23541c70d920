// SPDX-License-Identifier: MIT

// nowplayd-diagnose runs a handful of preflight checks against a nowplayd
// config file: does it parse, are the log and lock directories writable,
// and are the configured HTTP outputs and MPD inputs reachable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/nowplayd/nowplayd/internal/diagnose"
)

const (
	exitHealthy   = 0
	exitUnhealthy = 1
)

func main() {
	os.Exit(run(os.Stdout, os.Args[1:]))
}

func run(w *os.File, args []string) int {
	fs := flag.NewFlagSet("nowplayd-diagnose", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "/etc/nowplayd/config", "path to the config file to check")
	logDir := fs.String("logdir", "/var/log", "log directory to check for writability")
	lockDir := fs.String("lockdir", "/var/run", "lock directory to check for writability")
	asJSON := fs.Bool("json", false, "emit the report as JSON instead of plain text")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitHealthy
		}
		return exitUnhealthy
	}

	opts := diagnose.DefaultOptions()
	opts.ConfigPath = *configPath
	opts.LogDir = *logDir
	opts.LockDir = *lockDir

	report := diagnose.NewRunner(opts).Run(context.Background())

	if *asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "nowplayd-diagnose: encode report: %v\n", err)
			return exitUnhealthy
		}
	} else {
		printReport(w, report)
	}

	if !report.Healthy {
		return exitUnhealthy
	}
	return exitHealthy
}

func printReport(w *os.File, report *diagnose.Report) {
	for _, c := range report.Checks {
		fmt.Fprintf(w, "[%s] %s: %s\n", c.Status, c.Name, c.Message)
	}
	if report.Healthy {
		fmt.Fprintln(w, "\nAll checks passed.")
	} else {
		fmt.Fprintln(w, "\nOne or more checks failed.")
	}
}
