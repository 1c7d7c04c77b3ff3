package audit

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/planbiir/drivelog/internal/track"
)

// ZapSink writes audit events to a logger. Removals are debug noise,
// per-track outcomes are info and failures are warnings.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink logging under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Record(e Event) {
	fields := []zap.Field{
		zap.String("run", e.RunID),
		zap.String("kind", string(e.Kind)),
	}
	if e.Origin != "" {
		fields = append(fields, zap.String("origin", e.Origin))
	}
	if !e.SourceTimestamp.IsZero() {
		fields = append(fields, zap.String("source_timestamp", track.Key(e.SourceTimestamp)))
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if len(e.Points) > 0 {
		fields = append(fields, zap.Int("points", len(e.Points)))
	}
	if e.Count > 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	s.logger.Log(level(e.Kind), "audit", fields...)
}

func level(k Kind) zapcore.Level {
	switch k {
	case KindPointsRemoved, KindSegmentDropped:
		return zapcore.DebugLevel
	case KindRejected, KindMalformed, KindCollision:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
