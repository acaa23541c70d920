// Package logrotate provides a size-rotating, optionally gzip-compressing
// io.WriteCloser for the daemon's logfile directive.
//
// Adapted from the teacher's internal/stream/logrotate.go: same
// size-triggered rotation, numbered-suffix shifting, retention count, and
// async gzip compression, generalized from FFmpeg-stderr-specific naming to
// a plain log file path.
package logrotate

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultMaxSize is the default maximum log file size before rotation.
	DefaultMaxSize = 10 * 1024 * 1024

	// DefaultMaxBackups is the default number of rotated log files to keep.
	DefaultMaxBackups = 5
)

// Writer is an io.WriteCloser that rotates the underlying file when it
// exceeds a size limit.
type Writer struct {
	path       string
	maxSize    int64
	maxBackups int
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxSize sets the rotation threshold.
func WithMaxSize(size int64) Option { return func(w *Writer) { w.maxSize = size } }

// WithMaxBackups sets the retained rotated-file count.
func WithMaxBackups(n int) Option { return func(w *Writer) { w.maxBackups = n } }

// WithCompress enables gzip compression of rotated files.
func WithCompress(compress bool) Option { return func(w *Writer) { w.compress = compress } }

// New opens (creating if needed) path for append, applying opts.
func New(path string, opts ...Option) (*Writer, error) {
	w := &Writer{
		path:       path,
		maxSize:    DefaultMaxSize,
		maxBackups: DefaultMaxBackups,
	}
	for _, opt := range opts {
		opt(w)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("logrotate: create log directory: %w", err)
		}
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write implements io.Writer, rotating first if the write would overflow
// maxSize.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		_ = w.rotate() // prefer writing over losing logs on a rotation error
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Rotate forces rotation.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("logrotate: close current file: %w", err)
		}
		w.file = nil
	}

	if err := w.shiftBackups(); err != nil {
		return err
	}

	rotated := w.backupPath(1)
	if err := os.Rename(w.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logrotate: rotate: %w", err)
	}
	if w.compress {
		go compressFile(rotated)
	}
	w.cleanup()

	return w.openFile()
}

func (w *Writer) openFile() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logrotate: open: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("logrotate: stat: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *Writer) shiftBackups() error {
	for i := w.maxBackups - 1; i >= 1; i-- {
		old, next := w.backupPath(i), w.backupPath(i+1)
		for _, ext := range []string{"", ".gz"} {
			if _, err := os.Stat(old + ext); err == nil {
				if err := os.Rename(old+ext, next+ext); err != nil {
					return fmt.Errorf("logrotate: shift %s -> %s: %w", old+ext, next+ext, err)
				}
			}
		}
	}
	return nil
}

func (w *Writer) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func (w *Writer) cleanup() {
	for i := w.maxBackups + 1; i <= w.maxBackups+10; i++ {
		path := w.backupPath(i)
		os.Remove(path)
		os.Remove(path + ".gz")
	}
}

func compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	gzPath := path + ".gz"
	gzFile, err := os.Create(gzPath)
	if err != nil {
		return
	}
	defer gzFile.Close()

	gw := gzip.NewWriter(gzFile)
	if _, err := gw.Write(data); err != nil {
		os.Remove(gzPath)
		return
	}
	if err := gw.Close(); err != nil {
		os.Remove(gzPath)
		return
	}
	os.Remove(path)
}

// Size reports the current file size, for health reporting.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
