package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newDaemonLogger builds the rotating file logger used by the long-running serve
// command. One-shot commands (status, backup, migrate-legacy) log to stderr instead,
// since there's no daemon lifetime to accumulate a log file against.
func newDaemonLogger() *slog.Logger {
	home, err := os.UserHomeDir()
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logDir := filepath.Join(home, ".claudia", "memory", "logs")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "memoryd.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(rotator, nil))
}
