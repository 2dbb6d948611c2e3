package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level    string `mapstructure:"level"`    // debug, info, warn, error
	Encoding string `mapstructure:"encoding"` // json or console
}

// New builds a production logger with ISO8601 timestamps under "ts".
func New(cfg Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Encoding == "console" {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zc.Build()
}
