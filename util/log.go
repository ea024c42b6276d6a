package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Silent wins over everything else.
func NewLogger(release, debug, silent bool) (*zap.Logger, error) {
	if silent {
		return zap.NewNop(), nil
	}
	if release {
		return zap.NewProduction()
	}
	conf := zap.NewDevelopmentConfig()
	conf.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !debug {
		conf.Level.SetLevel(zap.InfoLevel)
	}
	return conf.Build()
}

func ErrorLog(logger *zap.Logger, err error, whatError string, fields ...zap.Field) {
	logger.Error(whatError+" error", append(fields, zap.Error(err))...)
}
