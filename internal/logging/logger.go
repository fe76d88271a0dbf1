// Package logging builds the zap logger shared by the demo service.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	Level       string `mapstructure:"level" default:"info"`
}

// New returns a JSON production logger, or a console development logger when
// Environment is "development".
func New(conf Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if conf.Level != "" {
		if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", conf.Level, err)
		}
	}

	var zc zap.Config
	if conf.Environment == "development" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
