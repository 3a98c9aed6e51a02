package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "station-forecast-service"

// NewLogger builds the process logger.
//
//	LOG_LEVEL   debug, info (default), warn or error
//	LOG_FORMAT  json (default) or console for local runs
//
// Every entry carries the service name and ENV_NAME.
func NewLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Sampling = nil
	}

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	if env == "" {
		env = "dev"
	}
	config.InitialFields = map[string]interface{}{
		"service": ServiceName,
		"env":     env,
	}

	return config.Build()
}

func parseLogLevel(s string) zap.AtomicLevel {
	level := zap.InfoLevel
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level = zap.DebugLevel
	case "warn", "warning":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}
	return zap.NewAtomicLevelAt(level)
}
