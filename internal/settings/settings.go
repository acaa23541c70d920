// Package settings holds the ambient daemon settings that the directive
// grammar in internal/config never had: the health endpoint bind address,
// the PID lock file path, and log rotation policy. Loaded via koanf from a
// YAML file plus NOWPLAYD_-prefixed environment overrides, with
// fsnotify-based hot reload through koanf's file provider.
//
// Adapted line-for-line from the teacher's internal/config/koanf.go
// (KoanfConfig): same multi-source precedence (env overrides file overrides
// built-in defaults), same atomic-swap-on-reload design, generalized from
// the teacher's stream/device settings to this daemon's operational
// settings.
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings are the ambient operational knobs that sit outside the module
// chain's own directive grammar.
type Settings struct {
	Health   HealthSettings   `yaml:"health" koanf:"health"`
	Lock     LockSettings     `yaml:"lock" koanf:"lock"`
	Rotation RotationSettings `yaml:"rotation" koanf:"rotation"`
}

// HealthSettings configures the /healthz and /metrics HTTP endpoints.
type HealthSettings struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	Addr    string `yaml:"addr" koanf:"addr"`
}

// LockSettings configures the single-instance PID file lock.
type LockSettings struct {
	Path string `yaml:"path" koanf:"path"`
}

// RotationSettings configures the logfile directive's logrotate.Writer.
type RotationSettings struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes" koanf:"max_size_bytes"`
	MaxBackups   int   `yaml:"max_backups" koanf:"max_backups"`
	Compress     bool  `yaml:"compress" koanf:"compress"`
}

// Default returns production-sensible defaults.
func Default() Settings {
	return Settings{
		Health: HealthSettings{
			Enabled: true,
			Addr:    "127.0.0.1:9799",
		},
		Lock: LockSettings{
			Path: "/var/run/nowplayd.pid",
		},
		Rotation: RotationSettings{
			MaxSizeBytes: 10 * 1024 * 1024,
			MaxBackups:   5,
			Compress:     true,
		},
	}
}

// Loader wraps koanf for multi-source settings loading with hot reload.
type Loader struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// Option configures a Loader.
type Option func(*Loader) error

// WithYAMLFile sets the YAML settings file path.
func WithYAMLFile(path string) Option {
	return func(l *Loader) error {
		l.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default: "NOWPLAYD").
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) error {
		l.envPrefix = prefix
		return nil
	}
}

// NewLoader creates a settings loader with the given sources, loading once
// immediately. Precedence, highest to lowest: environment, YAML file,
// built-in defaults.
func NewLoader(opts ...Option) (*Loader, error) {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: "NOWPLAYD",
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("settings: applying option: %w", err)
		}
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load unmarshals the current settings over Default(), so unset fields keep
// their built-in value.
func (l *Loader) Load() (Settings, error) {
	s := Default()

	l.mu.RLock()
	k := l.k
	l.mu.RUnlock()

	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("settings: unmarshal: %w", err)
	}
	return s, nil
}

// Reload forces a reload from all sources.
func (l *Loader) Reload() error {
	return l.reload()
}

func (l *Loader) reload() error {
	newK := koanf.New(".")

	if l.filePath != "" {
		if err := newK.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("settings: load YAML file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: l.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, l.envPrefix+"_")
			return strings.ReplaceAll(strings.ToLower(k), "_", "."), v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("settings: load environment: %w", err)
	}

	l.mu.Lock()
	l.k = newK
	l.mu.Unlock()
	return nil
}

// Watch watches the settings file for changes, reloading and invoking
// callback on every event. It blocks until ctx is cancelled.
//
// Known limitation (carried from the teacher's koanf.go): koanf v2's
// file.Provider does not expose a Stop() method, so the fsnotify goroutine
// it spawns outlives ctx cancellation and is reclaimed only at process
// exit.
func (l *Loader) Watch(ctx context.Context, callback func(event string, err error)) error {
	if l.filePath == "" {
		return fmt.Errorf("settings: cannot watch: no file path specified")
	}

	fp := file.Provider(l.filePath)
	if err := fp.Watch(func(event interface{}, err error) {
		if err != nil {
			callback("watch error", fmt.Errorf("settings: file watch: %w", err))
			return
		}
		if err := l.reload(); err != nil {
			callback("reload error", fmt.Errorf("settings: reload: %w", err))
			return
		}
		callback("settings reloaded", nil)
	}); err != nil {
		return fmt.Errorf("settings: start watching: %w", err)
	}

	<-ctx.Done()
	return nil
}
