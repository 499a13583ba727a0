package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/environment"
)

// New returns a zap logger configured for the environment we run in.
// An empty level falls back to the environment default: debug locally,
// info everywhere else.
func New(version string, env environment.Env, level string) (*zap.Logger, error) {
	var config zap.Config
	if env.IsLocal() {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("failed to parse log level %q: %w", level, err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(
		zap.String("service", environment.ServiceName),
		zap.String("version", version),
		zap.String("env", env.String()),
	), nil
}
