// Package logging wires a single process-wide structured logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.SugaredLogger appropriate for the given environment.
// "production" gets JSON output at info level; anything else gets a
// human-readable console encoder at debug level, matching the teacher's
// bootstrap habit of being chatty outside production.
func New(environment string) *zap.SugaredLogger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Logger construction itself should never fail for stdout/stderr
		// sinks; fall back to a no-op rather than panic the process.
		logger = zap.NewNop()
		os.Stderr.WriteString("logging: falling back to noop logger: " + err.Error() + "\n")
	}
	return logger.Sugar()
}
