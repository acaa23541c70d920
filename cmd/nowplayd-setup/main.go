// SPDX-License-Identifier: MIT

// nowplayd-setup is an interactive wizard that walks a user through
// configuring nowplayd's module chain and writes the resulting
// directive-grammar config file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nowplayd/nowplayd/internal/menu"
)

const exitError = 1

func main() {
	if err := run(os.Stdin, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "nowplayd-setup: %v\n", err)
		os.Exit(exitError)
	}
}

func run(r io.Reader, w io.Writer, args []string) error {
	outPath := "/etc/nowplayd/config"
	for i, a := range args {
		if a == "-h" || a == "--help" {
			fmt.Fprintln(w, "usage: nowplayd-setup [config-output-path]")
			return nil
		}
		if i == 0 {
			outPath = a
		}
	}

	var lines []string

	if menu.Confirm(r, w, "Require a cache module to start (refuse startup without one)?") {
		lines = append(lines, "requirecache")
	}

	if menu.Confirm(r, w, "Use an in-memory cache for songs sinks reject?") {
		lines = append(lines, moduleMem()...)
	}

	for menu.Confirm(r, w, "Add an HTTP submitter output?") {
		lines = append(lines, moduleHTTP(r, w)...)
	}

	for menu.Confirm(r, w, "Add an MPD polling input?") {
		lines = append(lines, moduleMPD(r, w)...)
	}

	if len(lines) == 0 {
		fmt.Fprintln(w, "Nothing configured; exiting without writing a config file.")
		return nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(outPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write config %q: %w", outPath, err)
	}
	fmt.Fprintf(w, "Wrote %s\n", outPath)
	return nil
}

func moduleMem() []string {
	return []string{"module mem"}
}

func moduleHTTP(r io.Reader, w io.Writer) []string {
	lines := []string{"module http"}
	url := menu.Input(r, w, "Submission URL")
	lines = append(lines, "url "+url)

	username := menu.Input(r, w, "Username (leave blank for none)")
	if username != "" {
		password := menu.Input(r, w, "Password")
		lines = append(lines, "username "+username, "password "+password)
	}
	if menu.Confirm(r, w, "Enable verbose logging for this output?") {
		lines = append(lines, "verbose")
	}
	return lines
}

func moduleMPD(r io.Reader, w io.Writer) []string {
	lines := []string{"module mpd"}
	host := menu.Input(r, w, "MPD host")
	lines = append(lines, "host "+host)

	port := menu.Input(r, w, "MPD port (leave blank for 6600)")
	if port != "" {
		lines = append(lines, "port "+port)
	}
	password := menu.Input(r, w, "MPD password (leave blank for none)")
	if password != "" {
		lines = append(lines, "password "+password)
	}
	return lines
}
