// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the process-wide structured logging setup: five
// severities (TRACE, DEBUG, INFO, WARNING, ERROR) mapped onto
// slog.Level, and a text or JSON handler (chosen by format, not by
// destination) writing to stderr or to a rotated log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity strings accepted by SetLoggingLevel/InitLogFile, matching
// the cfg package's LoggingConfig.Severity values.
const (
	Trace   = "TRACE"
	Debug   = "DEBUG"
	Info    = "INFO"
	Warning = "WARNING"
	Error   = "ERROR"
	Off     = "OFF"
)

// Custom slog levels. slog's built-in levels cover Debug..Error; TRACE
// sits below Debug and OFF sits above Error so nothing is emitted.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

var levelNames = map[slog.Level]string{
	LevelTrace: Trace,
	LevelDebug: Debug,
	LevelInfo:  Info,
	LevelWarn:  Warning,
	LevelError: Error,
}

// RotateConfig mirrors lumberjack's fields directly so callers don't
// need to import it just to build a LoggingConfig.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

type loggerFactory struct {
	mu        sync.Mutex
	file      *lumberjack.Logger
	sysWriter io.Writer
	format    string // "text" or "json"
	level     string
	rotate    RotateConfig
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	if f.sysWriter != nil {
		return f.sysWriter
	}
	return os.Stderr
}

// createJsonOrTextHandler builds a slog.Handler writing to w at
// programLevel, prefixing every message with prefix (used by tests to
// tag output, empty in production).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: programLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				lvl, _ := a.Value.Any().(slog.Level)
				name, ok := levelNames[lvl]
				if !ok {
					name = lvl.String()
				}
				return slog.String("severity", name)
			case slog.MessageKey:
				return slog.String("message", prefix+a.Value.String())
			case slog.TimeKey:
				if f.format == "json" {
					t, _ := a.Value.Any().(time.Time)
					return slog.Group("timestamp",
						slog.Int64("seconds", t.Unix()),
						slog.Int("nanos", t.Nanosecond()))
				}
				return slog.String(slog.TimeKey, a.Value.Time().Format("2006/01/02 15:04:05.000000"))
			}
			return a
		},
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	programLevel         = new(slog.LevelVar)
	defaultLoggerFactory = &loggerFactory{format: "json", level: Info}
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
)

func init() {
	setLoggingLevel(Info, programLevel)
}

func setLoggingLevel(level string, v *slog.LevelVar) {
	switch level {
	case Trace:
		v.Set(LevelTrace)
	case Debug:
		v.Set(LevelDebug)
	case Info:
		v.Set(LevelInfo)
	case Warning:
		v.Set(LevelWarn)
	case Error:
		v.Set(LevelError)
	case Off:
		v.Set(LevelOff)
	default:
		v.Set(LevelInfo)
	}
}

// SetLoggingLevel changes the active severity threshold for the
// process-wide default logger.
func SetLoggingLevel(level string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	defaultLoggerFactory.level = level
	setLoggingLevel(level, programLevel)
}

// SetLogFormat rebuilds the default logger against the current writer
// with the requested format ("text" or "json"; "json" when format is
// anything else).
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()
	if format != "text" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer(), programLevel, ""))
}

// FileConfig configures rotated file output for InitLogFile.
type FileConfig struct {
	FilePath string
	Severity string
	Format   string
	Rotate   RotateConfig
}

// InitLogFile redirects the default logger to a rotated file via
// lumberjack.
func InitLogFile(cfg FileConfig) error {
	if cfg.FilePath == "" {
		return fmt.Errorf("logger: empty file path")
	}
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	defaultLoggerFactory.file = &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.Rotate.MaxFileSizeMB,
		MaxBackups: cfg.Rotate.BackupFileCount,
		Compress:   cfg.Rotate.Compress,
	}
	defaultLoggerFactory.sysWriter = nil
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity
	defaultLoggerFactory.rotate = cfg.Rotate
	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer(), programLevel, ""))
	return nil
}

// Logger returns the process-wide default *slog.Logger, for subsystems
// that want to pass a concrete logger down instead of calling the
// package-level Tracef/Debugf/... helpers directly.
func Logger() *slog.Logger { return defaultLogger }

func log(ctx context.Context, level slog.Level, format string, args ...any) {
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func Tracef(format string, args ...any) { log(context.Background(), LevelTrace, format, args...) }
func Debugf(format string, args ...any) { log(context.Background(), LevelDebug, format, args...) }
func Infof(format string, args ...any)  { log(context.Background(), LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { log(context.Background(), LevelWarn, format, args...) }
func Errorf(format string, args ...any) { log(context.Background(), LevelError, format, args...) }
