package logging

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

// OTelHook copies logrus entries into OpenTelemetry log records.
type OTelHook struct {
	logger otellog.Logger
	levels []logrus.Level
}

// NewOTelHook returns a hook emitting to logger for entries at minLevel or more severe.
func NewOTelHook(logger otellog.Logger, minLevel logrus.Level) *OTelHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &OTelHook{logger: logger, levels: levels}
}

func (h *OTelHook) Levels() []logrus.Level { return h.levels }

// Fire never returns an error so a collector outage cannot break logging.
func (h *OTelHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(entry.Level.String())
	rec.SetBody(otellog.StringValue(entry.Message))
	for k, v := range entry.Data {
		rec.AddAttributes(attr(k, v))
	}
	h.logger.Emit(ctx, rec)
	return nil
}

func severity(l logrus.Level) otellog.Severity {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel:
		return otellog.SeverityFatal
	case logrus.ErrorLevel:
		return otellog.SeverityError
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	default:
		return otellog.SeverityTrace
	}
}

func attr(k string, v any) otellog.KeyValue {
	switch val := v.(type) {
	case string:
		return otellog.String(k, val)
	case bool:
		return otellog.Bool(k, val)
	case int:
		return otellog.Int(k, val)
	case int64:
		return otellog.Int64(k, val)
	case float64:
		return otellog.Float64(k, val)
	case error:
		return otellog.String(k, val.Error())
	default:
		return otellog.String(k, fmt.Sprint(val))
	}
}
