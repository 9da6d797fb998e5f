package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"imagedetect/internal/config"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to stdout and
// per-level files in the log directory.
type Logger struct {
	log    *logrus.Logger
	logDir string
	hook   *levelFileHook
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg *config.Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	hook, err := newLevelFileHook(cfg.LogDirectory)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(parseLevel(cfg.LogLevel))
	l.AddHook(hook)

	return &Logger{log: l, logDir: cfg.LogDirectory, hook: hook}, nil
}

// NewDiscard returns a Logger that drops everything. Used by tests.
func NewDiscard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{log: l}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.log.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.log.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.log.Errorf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.log.Debugf(format, v...)
}

// WithFields starts a structured entry.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.log.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.log.WithError(err)
}

// LogDir returns the directory holding the per-level files, or "" for a
// discarding logger.
func (l *Logger) LogDir() string {
	return l.logDir
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	if l.hook != nil {
		l.hook.mu.Lock()
		defer l.hook.mu.Unlock()
	}
	filePath := filepath.Join(l.logDir, fileName)
	if err := os.Truncate(filePath, 0); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	return nil
}

// Close releases the log files.
func (l *Logger) Close() error {
	if l.hook == nil {
		return nil
	}
	return l.hook.Close()
}

// levelFileHook mirrors entries into the file for their level. Warnings and
// errors only land in their own file, matching the stdout split.
type levelFileHook struct {
	files     map[logrus.Level]*os.File
	formatter logrus.Formatter
	mu        sync.Mutex
}

func newLevelFileHook(dir string) (*levelFileHook, error) {
	open := func(name string) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		return f, nil
	}

	info, err := open(InfoFile)
	if err != nil {
		return nil, err
	}
	warning, err := open(WarningFile)
	if err != nil {
		info.Close()
		return nil, err
	}
	errFile, err := open(ErrorFile)
	if err != nil {
		info.Close()
		warning.Close()
		return nil, err
	}

	return &levelFileHook{
		files: map[logrus.Level]*os.File{
			logrus.DebugLevel: info,
			logrus.InfoLevel:  info,
			logrus.WarnLevel:  warning,
			logrus.ErrorLevel: errFile,
			logrus.FatalLevel: errFile,
			logrus.PanicLevel: errFile,
		},
		formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true},
	}, nil
}

func (h *levelFileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *levelFileHook) Fire(entry *logrus.Entry) error {
	f, ok := h.files[entry.Level]
	if !ok {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = f.Write(line)
	return err
}

func (h *levelFileHook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[*os.File]bool)
	var firstErr error
	for _, f := range h.files {
		if seen[f] {
			continue
		}
		seen[f] = true
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
