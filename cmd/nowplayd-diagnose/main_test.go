package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsUnhealthyOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("module bogus\n"), 0o644))

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	code := run(w, []string{"--config", configPath, "--logdir", t.TempDir(), "--lockdir", t.TempDir()})
	w.Close()
	assert.Equal(t, exitUnhealthy, code)
}

func TestRunReportsHealthyOnMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nowplayd.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("requirecache\n"), 0o644))

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	code := run(w, []string{"--config", configPath, "--logdir", t.TempDir(), "--lockdir", t.TempDir()})
	w.Close()
	assert.Equal(t, exitHealthy, code)
}

func TestRunHelp(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	code := run(w, []string{"--help"})
	w.Close()
	assert.Equal(t, exitHealthy, code)
}
