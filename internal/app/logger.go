package app

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/m3xD/parkus/internal/config"
)

// NewLogger builds the process logger. output is a zap sink path such as "stdout" or "stderr".
func NewLogger(env config.Environment, output string) *zap.Logger {
	var cfg zap.Config

	if env == config.EnvProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.OutputPaths = []string{output}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}

	return logger
}
