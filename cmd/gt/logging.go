package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/graphtwin/internal/config"
)

// setupLogging builds the slog logger the long-running commands (serve, work)
// use. Level comes from log.level, overridden by --verbose / --quiet. When
// log.file is set, output is duplicated to a size-rotated file.
func setupLogging() *slog.Logger {
	level := parseLogLevel(config.GetString("log.level"))
	if verboseFlag {
		level = slog.LevelDebug
	}
	if quietFlag {
		level = slog.LevelError
	}

	var w io.Writer = os.Stderr
	if file := config.GetString("log.file"); file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    config.GetInt("log.max_size_mb"),
			MaxBackups: config.GetInt("log.max_backups"),
			MaxAge:     config.GetInt("log.max_age_days"),
		}
		w = io.MultiWriter(os.Stderr, rotated)
	}

	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
