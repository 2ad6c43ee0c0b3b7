// Package tailer follows one append-only file and hands every newly
// appended byte range to a sink.
//
// The tailer starts Idle and retries until the file exists. Once Watching,
// it remembers the size seen at watch start and only reads bytes appended
// after it. Growth is detected by fsnotify events on the file's directory and
// by a periodic poll. Truncation and rotation are not handled: a file that
// shrinks simply produces no events until it grows past the stored offset.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRetryDelay   = 10 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultChunkSize    = 64 * 1024
)

// Sink receives appended bytes in file order. The slice is owned by the sink.
type Sink func(chunk []byte)

// State is the observable position of the tailer.
type State struct {
	Path     string
	Offset   int64
	Watching bool
}

// Options tunes a Tailer. Zero values fall back to the defaults.
type Options struct {
	RetryDelay   time.Duration
	PollInterval time.Duration
	ChunkSize    int
	// Gate, when set, is held while a growth check runs.
	Gate sync.Locker
}

// Tailer follows a single file.
type Tailer struct {
	path   string
	sink   Sink
	logger *logrus.Logger
	opts   Options
	open   func(name string) (*os.File, error)

	mu       sync.Mutex
	offset   int64
	watching bool
}

func New(path string, sink Sink, logger *logrus.Logger, opts Options) *Tailer {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Tailer{
		path:   filepath.Clean(path),
		sink:   sink,
		logger: logger,
		opts:   opts,
		open:   os.Open,
	}
}

// State returns the current tail position.
func (t *Tailer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Path: t.path, Offset: t.offset, Watching: t.watching}
}

// Start moves the tailer to Watching when the file exists, positioned at
// its current end. It reports false while the file is still missing.
func (t *Tailer) Start() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watching {
		return true, nil
	}

	info, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", t.path, err)
	}

	t.offset = info.Size()
	t.watching = true
	return true, nil
}

// Check emits the bytes appended since the last check and advances the
// offset to the size observed at the start of the check. On a read error the
// offset stays where it was, so the range is read again next time.
func (t *Tailer) Check() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.watching {
		return 0, nil
	}

	info, err := os.Stat(t.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", t.path, err)
	}
	size := info.Size()
	if size <= t.offset {
		return 0, nil
	}

	f, err := t.open(t.path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", t.path, err)
	}
	defer f.Close()

	section := io.NewSectionReader(f, t.offset, size-t.offset)
	buf := make([]byte, t.opts.ChunkSize)
	for {
		n, readErr := section.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.sink(chunk)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return 0, fmt.Errorf("read %s: %w", t.path, readErr)
		}
	}

	read := size - t.offset
	t.offset = size
	return read, nil
}

// Run waits for the file to appear, then follows it until ctx is done.
func (t *Tailer) Run(ctx context.Context) error {
	for {
		ok, err := t.Start()
		if err != nil {
			t.logger.WithError(err).Warn("Log file is not accessible")
		}
		if ok {
			break
		}
		t.logger.WithField("path", t.path).Debug("Log file not found, retrying")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.opts.RetryDelay):
		}
	}
	t.logger.WithFields(logrus.Fields{"path": t.path, "offset": t.State().Offset}).Info("Watching log file")

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := t.newWatcher()
	if err != nil {
		t.logger.WithError(err).Warn("File notifications unavailable, polling only")
	} else {
		defer watcher.Close()
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == t.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				t.check()
			}
		case werr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			t.logger.WithError(werr).Warn("File watcher error")
		case <-ticker.C:
			t.check()
		}
	}
}

func (t *Tailer) newWatcher() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func (t *Tailer) check() {
	if t.opts.Gate != nil {
		t.opts.Gate.Lock()
		defer t.opts.Gate.Unlock()
	}
	if _, err := t.Check(); err != nil {
		t.logger.WithError(err).Warn("Failed to read log file")
	}
}
