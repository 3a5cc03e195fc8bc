package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/untoldecay/fieldmerge/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// daemonLogger is the daemon's structured logger with a printf helper.
type daemonLogger struct {
	logger *slog.Logger
}

func (d daemonLogger) log(format string, args ...any) {
	d.logger.Info(fmt.Sprintf(format, args...))
}

func (d daemonLogger) Info(msg string, args ...any)  { d.logger.Info(msg, args...) }
func (d daemonLogger) Warn(msg string, args ...any)  { d.logger.Warn(msg, args...) }
func (d daemonLogger) Error(msg string, args ...any) { d.logger.Error(msg, args...) }

// newDaemonLogger writes rotated text logs to settings.File, and to stderr
// too when foreground is set.
func newDaemonLogger(settings config.Log, foreground bool) (daemonLogger, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   settings.File,
		MaxSize:    settings.MaxSizeMB,
		MaxBackups: settings.MaxBackups,
		MaxAge:     settings.MaxAgeDays,
		Compress:   settings.Compress,
	}
	var w io.Writer = rotator
	if foreground {
		w = io.MultiWriter(rotator, os.Stderr)
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(settings.Level)})
	return daemonLogger{logger: slog.New(handler)}, rotator
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
