package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/crisiswatch/internal/config"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

var levelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

// ParseLevel maps a level name to a zap level. Unknown names map to info.
func ParseLevel(name string) zapcore.Level {
	level, ok := levelMap[name]
	if !ok {
		return zapcore.InfoLevel
	}
	return level
}

// New builds a JSON logger in production mode and a console logger otherwise
func New(cfg config.LoggerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Mode == ModeProduction {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
