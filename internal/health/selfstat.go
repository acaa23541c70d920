package health

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SelfStats holds basic resource usage for the running daemon process
// itself, exposed through /metrics alongside per-module health.
//
// Adapted from the teacher's internal/stream/monitor.go, which sampled
// /proc/{pid}/fd and /proc/{pid}/statm for a supervised FFmpeg child.
// This daemon has no child process to supervise, so the same /proc
// parsing is retargeted at /proc/self.
type SelfStats struct {
	FileDescriptors int
	MemoryBytes     int64
}

// procPath is overridable for testing against a fake /proc tree.
var procPath = "/proc"

func readSelfStats() SelfStats {
	var s SelfStats

	if entries, err := os.ReadDir(filepath.Join(procPath, "self", "fd")); err == nil {
		s.FileDescriptors = len(entries)
	}

	if data, err := os.ReadFile(filepath.Join(procPath, "self", "statm")); err == nil {
		s.MemoryBytes = parseResidentBytes(string(data))
	}

	return s
}

// parseResidentBytes extracts resident set size from /proc/*/statm content,
// whose second field is RSS in pages.
func parseResidentBytes(statm string) int64 {
	fields := strings.Fields(statm)
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * int64(os.Getpagesize())
}
