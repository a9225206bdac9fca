package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogOptions struct {
	// info|debug|warn|error
	LogLevel string

	// text|json
	LogFormat string

	// path to append to; "" or "-" for stderr
	LogPath string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func firstenv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %#v", s)
	}
}

// SetupSlog builds a logger from options, falling back to env vars, and installs it as the default.
//
// VDS_LOG_LEVEL=info|debug|warn|error
//
// VDS_LOG_FMT=text|json
//
// VDS_LOG_FILE=path (or "-" or "" for stderr)
func SetupSlog(options LogOptions) (*slog.Logger, io.Closer, error) {
	if options.LogLevel == "" {
		options.LogLevel = firstenv("VDS_LOG_LEVEL", "BSKYLOG_LOG_LEVEL")
	}
	level, err := ParseLevel(options.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	if options.LogFormat == "" {
		options.LogFormat = firstenv("VDS_LOG_FMT", "BSKYLOG_LOG_FMT")
	}
	if options.LogPath == "" {
		options.LogPath = firstenv("VDS_LOG_FILE", "BSKYLOG_FILE")
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if options.LogPath != "" && options.LogPath != "-" {
		f, err := os.OpenFile(options.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", options.LogPath, err)
		}
		out = f
		closer = f
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(options.LogFormat) {
	case "", "text":
		handler = slog.NewTextHandler(out, hopts)
	case "json":
		handler = slog.NewJSONHandler(out, hopts)
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("invalid log format: %#v", options.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}
