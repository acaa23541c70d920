// Package corelog is the daemon's process-global logger: mutex-guarded,
// UTC-timestamped, single-letter leveled, with a startup window where
// messages mirror to both stdout and stderr.
//
// Grounded on original_source/music-impl.c's music_log_internal: same
// level letters (F E W N D), same logboth dual-stream behavior during
// startup, same "one mutex guards all writes" discipline. No third-party
// logging library is used anywhere in the example corpus (the teacher
// hand-rolls its own io.Writer-based writers too), so this follows that
// convention rather than introducing one independently.
package corelog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log line, ordered most to least severe.
type Level int

const (
	Fatal Level = iota
	Error
	Warning
	Notice
	Debug
)

func (l Level) letter() string {
	switch l {
	case Fatal:
		return "F"
	case Error:
		return "E"
	case Warning:
		return "W"
	case Notice:
		return "N"
	case Debug:
		return "D"
	default:
		return "?"
	}
}

// Logger is the process-wide logger handle. The zero value is not usable;
// construct with New.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	threshold Level
	logBoth  bool
	name     string
}

// New returns a Logger writing to out (normally stderr, or a rotating log
// file once the logfile directive has opened one) at the given threshold.
func New(name string, out io.Writer, threshold Level) *Logger {
	return &Logger{out: out, threshold: threshold, name: name}
}

// SetOutput swaps the output writer, e.g. once the logfile directive opens
// its rotating file. The process's stderr itself is left as it is.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// SetThreshold changes the minimum level emitted.
func (l *Logger) SetThreshold(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = level
}

// SetLogBoth toggles the startup window behavior where every message is
// also mirrored to stdout in addition to the configured output.
func (l *Logger) SetLogBoth(both bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logBoth = both
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.threshold {
		return
	}
	ts := time.Now().UTC().Format("[2006/01/02 15:04:05] ")
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s%s %s: %s\n", ts, level.letter(), l.name, msg)
	_, _ = io.WriteString(l.out, line)
	if l.logBoth && l.out != os.Stdout {
		_, _ = io.WriteString(os.Stdout, line)
	}
}

func (l *Logger) Fatalf(format string, args ...any)   { l.log(Fatal, format, args...) }
func (l *Logger) Errorf(format string, args ...any)   { l.log(Error, format, args...) }
func (l *Logger) Warningf(format string, args ...any) { l.log(Warning, format, args...) }
func (l *Logger) Noticef(format string, args ...any)  { l.log(Notice, format, args...) }
func (l *Logger) Debugf(format string, args ...any)   { l.log(Debug, format, args...) }
