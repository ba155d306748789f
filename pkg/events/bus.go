package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/util"
)

const DefaultBusCapacity = 1024

// Emitter receives committed events. Emit must not block the caller.
type Emitter interface {
	Emit(ev Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Sink is a downstream consumer of events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Bus queues events from the engine and delivers them to every sink from a
// single goroutine, in emission order. A full queue drops the event.
type Bus struct {
	queue   chan Event
	log     *zap.SugaredLogger
	dropped atomic.Uint64

	mu    sync.RWMutex
	sinks []Sink
}

func NewBus(capacity int, logger *zap.SugaredLogger, sinks ...Sink) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		queue: make(chan Event, capacity),
		log:   util.OrNop(logger),
		sinks: sinks,
	}
}

// Attach adds a sink. Events already queued are delivered to it too.
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Bus) Emit(ev Event) {
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
		b.log.Warnw("event_dropped", "id", ev.ID, "kind", ev.Kind, "queue_cap", cap(b.queue))
	}
}

// Dropped reports how many events were discarded on a full queue.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Run delivers events until ctx is cancelled, then flushes what is already
// queued and returns.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		case <-ctx.Done():
			b.flush()
			return ctx.Err()
		}
	}
}

func (b *Bus) flush() {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Handle(ctx, ev); err != nil {
			b.log.Warnw("sink_failed", "sink", s.Name(), "id", ev.ID, "kind", ev.Kind, "err", err)
		}
	}
}
