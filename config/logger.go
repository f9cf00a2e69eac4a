package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the zap logger for cfg. Development mode adds caller
// info and console encoding.
func (c *Config) NewLogger(development bool) (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, invalid("log_level", "%v", err)
	}
	var zc zap.Config
	if development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
