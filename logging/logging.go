// Package logging builds the process logger: a zap core behind the slog
// API, so library packages only ever see *slog.Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/c360/countertop/config"
	"github.com/c360/countertop/errors"
)

// Logger is the slog front end plus the zap core behind it.
type Logger struct {
	*slog.Logger
	core  zapcore.Core
	level zap.AtomicLevel
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.core.Sync()
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// New builds a logger writing to out, plus c.File when set. Format "auto"
// picks the console encoder when out is a terminal and JSON otherwise.
func New(c config.LogConfig, out io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder(c.Format, isTerminal(out)), zapcore.Lock(zapcore.AddSync(out)), level),
	}
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
			return nil, errors.WrapInvalid(err, "logging", "New", "create log directory")
		}
		rotator := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.MaxSizeMB, 10),
			MaxBackups: max(c.MaxBackups, 1),
			MaxAge:     max(c.MaxAgeDays, 7),
		}
		// Files always get JSON regardless of the terminal format.
		cores = append(cores, zapcore.NewCore(encoder("json", false), zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	handler := zapslog.NewHandler(core, zapslog.WithCaller(lvl == zapcore.DebugLevel))
	return &Logger{
		Logger: slog.New(handler),
		core:   core,
		level:  level,
	}, nil
}

// ParseLevel maps debug, info, warn and error to zap levels.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.NewValidationError("logging", "ParseLevel", "unknown log level", level)
	}
}

func encoder(format string, tty bool) zapcore.Encoder {
	switch strings.ToLower(format) {
	case "json":
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	if tty {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
