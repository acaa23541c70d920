// Package config implements the directive-grammar parser that builds a
// module chain from a configuration file: one "current module" at a time,
// option lines addressed to it until a "module" directive switches to a new
// one, plus a handful of core-level directives (logfile, loglevel,
// requirecache).
//
// Grounded on original_source/music.c's parse_line/config_line/sort_modules.
// Dynamic module loading (dlopen of a "<name>.so") is explicitly out of
// scope (spec.md's "not a general module system" non-goal): modules are
// looked up in a fixed, compiled-in Registry instead.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nowplayd/nowplayd/internal/corelog"
	"github.com/nowplayd/nowplayd/internal/modkit"
)

// Factory builds a freshly named, unconfigured module of one compiled-in
// type (e.g. "http", "mem", "mpd").
type Factory func(name string) modkit.Module

// Registry maps a module type name to its Factory.
type Registry map[string]Factory

// Core holds the core-level directives.
type Core struct {
	Logfile      string
	Loglevel     corelog.Level
	RequireCache bool
}

// Result is what Load produces: the core settings plus the built chain.
type Result struct {
	Core  Core
	Chain *modkit.Chain
}

var coreOptions = map[string]bool{
	"logfile":      true,
	"loglevel":     true,
	"requirecache": true,
}

// Load parses r line by line, building a Result. Grounded on parse_line's
// splitting rule: leading whitespace trimmed, the option is the first
// whitespace-delimited token, '#' starts a trailing comment, the remainder
// (trimmed) is the argument.
func Load(r io.Reader, registry Registry) (*Result, error) {
	res := &Result{Chain: &modkit.Chain{}}
	res.Core.Loglevel = corelog.Notice

	var current modkit.Module // nil while addressing core directives
	var currentType string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		opt, arg, ok := splitLine(scanner.Text())
		if !ok {
			continue
		}

		switch {
		case opt == "name":
			if current == nil {
				return nil, fmt.Errorf("config line %d: name: unknown option", lineNo)
			}
			if arg == "" {
				return nil, fmt.Errorf("config line %d: name: argument expected", lineNo)
			}
			if err := rename(current, arg); err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNo, err)
			}

		case opt == "module":
			if err := finalizeCurrent(current); err != nil {
				return nil, fmt.Errorf("config line %d: module %s: %w", lineNo, currentType, err)
			}
			m, typeName, err := openModule(arg, registry)
			if err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNo, err)
			}
			res.Chain.Add(m)
			current = m
			currentType = typeName

		case current == nil:
			if err := applyCoreOption(&res.Core, opt, arg); err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNo, err)
			}

		default:
			if err := current.Configure(opt, arg); err != nil {
				return nil, fmt.Errorf("config line %d: %w", lineNo, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read error: %w", err)
	}
	if err := finalizeCurrent(current); err != nil {
		return nil, fmt.Errorf("config: %s: %w", currentType, err)
	}

	return res, nil
}

func finalizeCurrent(current modkit.Module) error {
	if current == nil {
		return nil
	}
	return current.Configure("", "")
}

func openModule(arg string, registry Registry) (modkit.Module, string, error) {
	if arg == "" {
		return nil, "", fmt.Errorf("module: argument expected")
	}
	fields := strings.SplitN(arg, " ", 2)
	typeName := fields[0]
	factory, ok := registry[typeName]
	if !ok {
		return nil, "", fmt.Errorf("module: unknown type %q", typeName)
	}
	return factory(typeName), typeName, nil
}

// renamer lets a module accept the "name" directive's override of its
// factory-assigned default name.
type renamer interface{ SetName(string) }

func rename(current modkit.Module, arg string) error {
	r, ok := current.(renamer)
	if !ok {
		return fmt.Errorf("name: module %q does not support renaming", current.Name())
	}
	r.SetName(arg)
	return nil
}

func applyCoreOption(core *Core, opt, arg string) error {
	if !coreOptions[opt] {
		return fmt.Errorf("%s: unknown option", opt)
	}
	switch opt {
	case "logfile":
		if arg == "" {
			return fmt.Errorf("logfile: argument expected")
		}
		core.Logfile = arg
	case "loglevel":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("loglevel: invalid level %q", arg)
		}
		core.Loglevel = corelog.Level(n)
	case "requirecache":
		core.RequireCache = true
	}
	return nil
}

// splitLine implements parse_line's tokenizing rule: trim leading space,
// the option is the first run of non-space characters, '#' starts a
// trailing comment, the rest (trimmed) is the argument.
func splitLine(line string) (opt, arg string, ok bool) {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimLeft(line, " \t")
	if line == "" {
		return "", "", false
	}
	i := 0
	for i < len(line) && !isSpace(line[i]) {
		i++
	}
	opt = line[:i]
	arg = strings.TrimSpace(line[i:])
	return opt, arg, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
