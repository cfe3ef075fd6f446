package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	correlationIDKey struct{}
	activityIDKey    struct{}
)

const serviceName = "feedback-engine"

// Log encodings accepted by NewLogger.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// NewLogger builds the process logger. Every entry carries the service name;
// format is json (default) or console.
func NewLogger(level, format string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	encoding, err := parseFormat(format)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.Encoding = encoding
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == FormatConsole {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.DisableStacktrace = true
	cfg.Sampling = nil

	logger, err := cfg.Build(zap.AddCaller(), zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func parseFormat(format string) (string, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(format)); normalized {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatConsole:
		return FormatConsole, nil
	default:
		return "", fmt.Errorf("invalid log format %q", format)
	}
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

// WithActivityID tags ctx with the lead activity being worked on.
func WithActivityID(ctx context.Context, activityID int64) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, activityIDKey{}, activityID)
}

func ActivityIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}

	activityID, ok := ctx.Value(activityIDKey{}).(int64)
	if !ok || activityID <= 0 {
		return 0, false
	}

	return activityID, true
}

// WithContextLogger adds the correlationId, activityId and traceId fields
// carried by ctx. A nil logger stays nil.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if ctx == nil {
		return logger
	}

	fields := make([]zap.Field, 0, 4)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String("correlationId", correlationID))
	}
	if activityID, ok := ActivityIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("activityId", activityID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("traceId", sc.TraceID().String()),
			zap.String("spanId", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}
