package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a structured logger: JSON in production, console otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	if env != "production" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation tags the logger with an operation and a session identifier.
func WithOperation(logger *zap.Logger, operation, sessionID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	return logger.With(fields...)
}
