package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/util"
)

// LogSink writes every event to a zap logger.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(logger *zap.SugaredLogger) *LogSink {
	return &LogSink{log: util.OrNop(logger)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, ev Event) error {
	fps := make([]string, len(ev.Legs))
	for i, l := range ev.Legs {
		fps[i] = l.Fingerprint.Hex()
	}
	s.log.Infow("settlement_event",
		"id", ev.ID,
		"kind", ev.Kind,
		"executor", ev.Executor.Hex(),
		"fingerprints", fps,
		"gross", ev.Gross,
		"commission", ev.Commission)
	return nil
}
