// Package logging builds the zap logger used by the market service and adapts
// it to the market.Logger interface.
package logging

import (
	"fmt"
	"os"
	"strings"

	market "github.com/goliatone/go-market"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger
type Options struct {
	// Mode is "production" for JSON output, anything else is console output
	Mode  string
	Level string
	// File enables rotated file output when not empty
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap logger from opts
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var zapConfig zap.Config
	if opts.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	zapConfig.OutputPaths = []string{"stdout"}

	if opts.File == "" {
		return zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 64),
		MaxBackups: orDefault(opts.MaxBackups, 7),
		MaxAge:     orDefault(opts.MaxAgeDays, 7),
	}

	core := zapcore.NewTee(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			level,
		),
		zapcore.NewCore(
			consoleEncoder(opts.Mode),
			zapcore.AddSync(os.Stdout),
			level,
		),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

func consoleEncoder(mode string) zapcore.Encoder {
	if mode == "production" {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Logger adapts a sugared zap logger to market.Logger
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ market.Logger = (*Logger)(nil)

// Sugar wraps l as a market.Logger
func Sugar(l *zap.Logger) *Logger {
	return &Logger{sugar: l.Sugar()}
}

// Named returns a child logger scoped to name
func (l *Logger) Named(name string) *Logger {
	return &Logger{sugar: l.sugar.Named(name)}
}

func (l *Logger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
