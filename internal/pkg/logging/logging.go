package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options describes where and how process logs are written.
type Options struct {
	Level  string
	Format string // "json" or "text"
	// TeeFile, when set, duplicates every log line into this file.
	TeeFile string
	Stdout  io.Writer
}

// New builds the process logger. The returned close func releases the tee
// file and is safe to call when no file was opened.
func New(opts Options) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return nil, nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	var out io.Writer = os.Stdout
	if opts.Stdout != nil {
		out = opts.Stdout
	}

	logger.SetOutput(out)

	closeFn := func() {}
	if opts.TeeFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.TeeFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.TeeFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger.AddHook(&teeHook{w: f, formatter: logger.Formatter})
		closeFn = func() { _ = f.Close() }
	}

	return logger, closeFn, nil
}

// teeHook writes every entry to a file with the logger's formatter.
type teeHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter logrus.Formatter
}

func (h *teeHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *teeHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(line)
	return err
}

// Local returns a logger that shares output, level, formatter and hooks with
// logger but never writes to the tee file. Components that read the tee file
// back, or deliver what is read from it, log through it so their own
// warnings cannot feed themselves.
func Local(logger *logrus.Logger) *logrus.Logger {
	local := logrus.New()
	local.SetOutput(logger.Out)
	local.SetFormatter(logger.Formatter)
	local.SetLevel(logger.GetLevel())
	local.ReportCaller = logger.ReportCaller
	local.ExitFunc = logger.ExitFunc

	for level, hooks := range logger.Hooks {
		for _, h := range hooks {
			if _, tee := h.(*teeHook); tee {
				continue
			}
			local.Hooks[level] = append(local.Hooks[level], h)
		}
	}
	return local
}
