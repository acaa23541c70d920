package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWritesConfiguredModules(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "nowplayd.conf")

	input := strings.Join([]string{
		"y", // requirecache
		"n", // mem cache
		"y", // add http output
		"http://example.com/submit",
		"",   // no username
		"n",  // not verbose
		"n",  // no more http outputs
		// the mpd prompt then reads end of input, which counts as "no"
	}, "\n") + "\n"

	var out bytes.Buffer
	err := run(strings.NewReader(input), &out, []string{outPath})
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "requirecache")
	assert.Contains(t, content, "module http")
	assert.Contains(t, content, "url http://example.com/submit")
	assert.NotContains(t, content, "module mem")
	assert.NotContains(t, content, "module mpd")
}

func TestRunWithNothingConfiguredSkipsWrite(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "nowplayd.conf")

	input := strings.Join([]string{"n", "n", "n", "n"}, "\n") + "\n"
	var out bytes.Buffer
	err := run(strings.NewReader(input), &out, []string{outPath})
	require.NoError(t, err)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunHelp(t *testing.T) {
	var out bytes.Buffer
	err := run(strings.NewReader(""), &out, []string{"--help"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "usage")
}
