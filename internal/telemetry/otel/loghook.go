package otel

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
)

// Emitter is the subset of otellog.Logger the hook calls.
type Emitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// LogHook forwards logrus entries to an OTel logger so they leave the process with the traces.
type LogHook struct {
	logger Emitter
	levels []logrus.Level
}

// NewLogHook returns a hook that emits through provider's "message-feed/backend" logger for
// entries at minLevel or more severe. A nil provider yields a hook that drops everything.
func NewLogHook(provider otellog.LoggerProvider, minLevel logrus.Level) *LogHook {
	if provider == nil {
		provider = noop.NewLoggerProvider()
	}
	return NewLogHookWithEmitter(provider.Logger("message-feed/backend"), minLevel)
}

// NewLogHookWithEmitter is NewLogHook with an explicit emitter. Used by tests.
func NewLogHookWithEmitter(e Emitter, minLevel logrus.Level) *LogHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &LogHook{logger: e, levels: levels}
}

// Levels implements logrus.Hook.
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook. Entry fields become string/int/bool attributes; anything else is formatted.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetObservedTimestamp(entry.Time)
	rec.SetBody(otellog.StringValue(entry.Message))
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(entry.Level.String())
	for k, v := range entry.Data {
		rec.AddAttributes(attr(k, v))
	}
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, rec)
	return nil
}

func attr(k string, v any) otellog.KeyValue {
	switch x := v.(type) {
	case string:
		return otellog.String(k, x)
	case int:
		return otellog.Int(k, x)
	case int64:
		return otellog.Int64(k, x)
	case float64:
		return otellog.Float64(k, x)
	case bool:
		return otellog.Bool(k, x)
	case error:
		return otellog.String(k, x.Error())
	default:
		return otellog.String(k, fmt.Sprint(x))
	}
}

func severity(l logrus.Level) otellog.Severity {
	switch l {
	case logrus.TraceLevel:
		return otellog.SeverityTrace
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.ErrorLevel:
		return otellog.SeverityError
	default:
		return otellog.SeverityFatal
	}
}
