package observ

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production gets JSON output,
// everything else the human-readable development encoder.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build(zap.Fields(zap.String("service", "chorus")))
}

// Degraded records that an optional backend is unavailable and the named
// component fell back to a single-instance implementation.
func Degraded(logger *zap.Logger, component, reason string, err error) {
	fields := []zap.Field{
		zap.String("component", component),
		zap.String("reason", reason),
		zap.Bool("cross_instance", false),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logger.Warn("backend degraded, running single-instance", fields...)
}
