package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneValues(t *testing.T) {
	d := Default()
	assert.True(t, d.Health.Enabled)
	assert.NotEmpty(t, d.Health.Addr)
	assert.NotEmpty(t, d.Lock.Path)
	assert.Greater(t, d.Rotation.MaxSizeBytes, int64(0))
}

func TestLoaderAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("health:\n  addr: 0.0.0.0:9000\n"), 0600))

	l, err := NewLoader(WithYAMLFile(path))
	require.NoError(t, err)

	s, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", s.Health.Addr)
	assert.True(t, s.Health.Enabled, "unset fields fall back to Default()")
}

func TestLoaderAppliesEnvOverride(t *testing.T) {
	t.Setenv("NOWPLAYD_HEALTH_ADDR", "127.0.0.1:1234")

	l, err := NewLoader(WithEnvPrefix("NOWPLAYD"))
	require.NoError(t, err)

	s, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", s.Health.Addr)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	want := Default()
	want.Lock.Path = "/tmp/custom.pid"
	require.NoError(t, want.Save(path))

	l, err := NewLoader(WithYAMLFile(path))
	require.NoError(t, err)
	got, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.pid", got.Lock.Path)
}
