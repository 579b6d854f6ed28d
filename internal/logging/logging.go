// Package logging builds the process logger.
//
// Logs go to a rotating file by default so background activity never lands
// in the middle of the interactive console.
package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"lanchat/internal/config"
)

// Setup builds a zap.Logger from c and installs it as the global logger.
// The caller should defer logger.Sync().
func Setup(c config.LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var ws zapcore.WriteSyncer
	switch strings.ToLower(strings.TrimSpace(c.File)) {
	case "", "stderr":
		ws = zapcore.Lock(os.Stderr)
	case "stdout":
		ws = zapcore.Lock(os.Stdout)
	default:
		if dir := filepath.Dir(c.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		})
	}

	logger := zap.New(zapcore.NewCore(encoder, ws, level),
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	zap.ReplaceGlobals(logger)
	_, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
	return logger, nil
}

// ParseLevel maps a level name to a zapcore.Level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
