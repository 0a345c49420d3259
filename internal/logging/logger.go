package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"netaccess/internal/paths"
)

// DefaultFileName is the log file created in the cache directory.
const DefaultFileName = "netaccess.log"

// Stderr selects terminal output instead of a file.
const Stderr = "-"

// Options configures the logger.
type Options struct {
	Level string
	// File is the log path. Empty selects the cache directory, Stderr selects
	// the terminal.
	File string
	JSON bool
}

// New builds a logrus logger with rotation when writing to a file.
func New(opts Options) (*logrus.Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = l
	}

	out, err := output(opts.File)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			DisableColors: opts.File != Stderr,
		})
	}
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func output(file string) (io.Writer, error) {
	if file == Stderr {
		return os.Stderr, nil
	}
	if file == "" {
		dir, err := paths.CacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve log directory: %w", err)
		}
		file = filepath.Join(dir, DefaultFileName)
	} else if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
	}, nil
}
