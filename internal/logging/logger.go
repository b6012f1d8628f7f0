package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/internal/config"
)

const logFileName = "pse_usage.log"

// New builds the service logger. The returned closer releases the log file, if any.
func New(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "", "auto":
		if isatty.IsTerminal(os.Stderr.Fd()) {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (available: auto, json, text)", cfg.Format)
	}

	if cfg.Dir == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.Dir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))

	return logger, f, nil
}

// Discard returns a logger that drops everything, for tests and quiet commands
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
