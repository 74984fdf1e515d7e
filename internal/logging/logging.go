// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger writing to stderr and, when cfg.File is set, to a
// rotating file as well. The returned closer releases the file.
func New(cfg config.Log) (*logrus.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.Log, console io.Writer) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.File == "" {
		logger.SetOutput(console)
		return logger, nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	logger.SetOutput(io.MultiWriter(console, file))
	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
