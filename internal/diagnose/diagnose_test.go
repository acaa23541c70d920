package diagnose

import (
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCheck(t *testing.T, report *Report, name string) CheckResult {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q in report", name)
	return CheckResult{}
}

func TestRunAllChecksPass(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	config := "module http\n" +
		"url " + srv.URL + "\n" +
		"module mpd\n" +
		"host " + ln.Addr().(*net.TCPAddr).IP.String() + "\n" +
		"port " + portOf(t, ln) + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))

	logDir := t.TempDir()
	lockDir := t.TempDir()

	r := NewRunner(Options{ConfigPath: configPath, LogDir: logDir, LockDir: lockDir})
	report := r.Run(t.Context())

	assert.True(t, report.Healthy)
	assert.Equal(t, StatusOK, findCheck(t, report, "config file parses").Status)
	assert.Equal(t, StatusOK, findCheck(t, report, "log directory").Status)
	assert.Equal(t, StatusOK, findCheck(t, report, "lock directory").Status)
}

func TestRunReportsUnreachableHTTPOutput(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("module http\nurl http://127.0.0.1:1/submit\n"), 0o644))

	r := NewRunner(Options{ConfigPath: configPath, LogDir: t.TempDir(), LockDir: t.TempDir()})
	report := r.Run(t.Context())

	assert.False(t, report.Healthy)
	c := findCheck(t, report, `http output "http" reachable`)
	assert.Equal(t, StatusError, c.Status)
}

func TestRunReportsConfigParseError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("module bogus\n"), 0o644))

	r := NewRunner(Options{ConfigPath: configPath, LogDir: t.TempDir(), LockDir: t.TempDir()})
	report := r.Run(t.Context())

	assert.False(t, report.Healthy)
	assert.Equal(t, StatusError, findCheck(t, report, "config file parses").Status)
}

func TestRunReportsMissingDirWritable(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("requirecache\n"), 0o644))

	r := NewRunner(Options{ConfigPath: configPath, LogDir: "/does/not/exist", LockDir: t.TempDir()})
	report := r.Run(t.Context())

	assert.False(t, report.Healthy)
	assert.Equal(t, StatusError, findCheck(t, report, "log directory").Status)
}

func portOf(t *testing.T, ln net.Listener) string {
	t.Helper()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return port
}
