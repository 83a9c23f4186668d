// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level string `json:"level" yaml:"level"`
	// Format is "json" (default) or "text".
	Format string `json:"format" yaml:"format"`
	// File, when set, receives a copy of every entry and is rotated.
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// JSONFormatter emits one object per entry with the tick-record key names.
func JSONFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

// New returns the logger and a closer for the rotating file, if any.
func New(cfg Config, stdout io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		logger.SetFormatter(JSONFormatter())
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "06-01-02 15:04:05.000",
		})
	default:
		return nil, nil, fmt.Errorf("log: unknown format %q (supported: json, text)", cfg.Format)
	}

	if stdout == nil {
		stdout = os.Stdout
	}
	if cfg.File == "" {
		logger.SetOutput(stdout)
		return logger, nopCloser{}, nil
	}

	if dir := filepath.Dir(cfg.File); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	logger.SetOutput(io.MultiWriter(stdout, rotator))
	return logger, rotator, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Entry returns a base entry for a component, falling back to the
// standard logger when log is nil.
func Entry(log *logrus.Logger, component string) *logrus.Entry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return log.WithField("component", component)
}
