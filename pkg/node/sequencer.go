package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/mempool"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

// DefaultBatchSize caps how many requests one sequencer round executes.
const DefaultBatchSize = 256

// Sequencer is the only goroutine that calls into the engine. Requests are
// queued in the mempool and executed in rounds, admin first, then cancels,
// then matches.
type Sequencer struct {
	Pool      *mempool.Mempool
	Clock     util.Clock
	Interval  time.Duration
	BatchSize int
	Logger    *zap.SugaredLogger

	wake   chan struct{}
	rounds uint64
}

func NewSequencer(pool *mempool.Mempool, clock util.Clock, interval time.Duration, logger *zap.SugaredLogger) *Sequencer {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Sequencer{
		Pool:      pool,
		Clock:     clock,
		Interval:  interval,
		BatchSize: DefaultBatchSize,
		Logger:    util.OrNop(logger),
		wake:      make(chan struct{}, 1),
	}
}

// Submit queues exec under op and waits for its result. If ctx ends first
// Submit returns ctx.Err(), but the request stays queued and may still
// execute.
func (s *Sequencer) Submit(ctx context.Context, op string, exec func() (*events.Event, error)) (*events.Event, error) {
	r := mempool.NewRequest(op, exec)
	s.Pool.Push(r)
	select {
	case s.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-r.Done():
		return res.Event, res.Err
	case <-ctx.Done():
		s.Logger.Warnw("request_abandoned", "id", r.ID, "op", op, "err", ctx.Err())
		return nil, ctx.Err()
	}
}

// Run executes queued requests until ctx is cancelled. A round starts when
// a request is submitted or every Interval, whichever comes first.
func (s *Sequencer) Run(ctx context.Context) error {
	s.Logger.Infow("sequencer_started", "interval_ms", s.Interval.Milliseconds(), "batch_size", s.BatchSize)
	for {
		var tick <-chan time.Time
		if s.Interval > 0 {
			tick = s.Clock.After(s.Interval)
		}
		select {
		case <-ctx.Done():
			s.Logger.Infow("sequencer_stopped", "rounds", s.rounds, "pending", s.Pool.Len())
			return ctx.Err()
		case <-s.wake:
		case <-tick:
		}
		s.round()
	}
}

// round drains the mempool in batches so requests pushed while a batch
// runs are picked up without waiting for the next tick.
func (s *Sequencer) round() {
	for {
		batch := s.Pool.Select(s.BatchSize)
		if len(batch) == 0 {
			return
		}
		s.rounds++
		for _, r := range batch {
			start := time.Now()
			res := r.Execute()
			s.Logger.Debugw("request_executed",
				"id", r.ID,
				"op", r.Op,
				"class", r.Class.String(),
				"queued_ms", start.Sub(r.ReceivedAt).Milliseconds(),
				"ok", res.Err == nil)
		}
	}
}
