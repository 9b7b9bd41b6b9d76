// Package utils
package utils

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the process logger. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
	JSON       bool   `yaml:"json" env:"JSON"`
}

var (
	logger *zap.Logger
	once   sync.Once
)

// NewLogger builds a zap logger writing to stderr and, when File is set,
// to a rotated file.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.Level != "" {
		l, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		level = l
	}

	var enc zapcore.Encoder
	if c.JSON {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	} else {
		consoleCfg := encoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(consoleCfg)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}
	if c.File != "" {
		maxSize := c.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		rotated := &lumberjack.Logger{
			Filename: c.File,
			MaxSize:  maxSize,
			MaxAge:   c.MaxAgeDays,
			Compress: c.Compress,
		}
		// files always get JSON so they stay machine readable
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// InitLogger replaces the process logger. It must run before the first
// GetLogger call to take effect.
func InitLogger(c LogConfig) error {
	l, err := NewLogger(c)
	if err != nil {
		return err
	}
	once.Do(func() { logger = l })
	return nil
}

// GetLogger returns the process logger, an info level stderr logger unless
// InitLogger ran first.
func GetLogger() *zap.Logger {
	once.Do(func() {
		l, err := NewLogger(LogConfig{})
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}
