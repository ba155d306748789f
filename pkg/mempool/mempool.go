package mempool

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uhyunpark/hypersettle/pkg/events"
)

// Class buckets requests by execution priority.
type Class int

const (
	ClassAdmin Class = iota
	ClassCancel
	ClassMatch
)

func (c Class) String() string {
	switch c {
	case ClassAdmin:
		return "admin"
	case ClassCancel:
		return "cancel"
	default:
		return "match"
	}
}

// Classify maps an operation name to its bucket. Executor management is
// admin, cancel_* is cancel, everything else is a settlement.
func Classify(op string) Class {
	switch {
	case strings.HasPrefix(op, "cancel_"):
		return ClassCancel
	case strings.HasSuffix(op, "_executor"), op == "transfer_ownership":
		return ClassAdmin
	default:
		return ClassMatch
	}
}

// Result is what a request produced once executed.
type Result struct {
	Event *events.Event
	Err   error
}

// Request is one queued engine call.
type Request struct {
	ID         uuid.UUID
	Op         string
	Class      Class
	ReceivedAt time.Time

	exec func() (*events.Event, error)
	done chan Result
}

func NewRequest(op string, exec func() (*events.Event, error)) *Request {
	return &Request{
		ID:         uuid.New(),
		Op:         op,
		Class:      Classify(op),
		ReceivedAt: time.Now(),
		exec:       exec,
		done:       make(chan Result, 1),
	}
}

// Execute runs the request and publishes its result. It must be called at
// most once.
func (r *Request) Execute() Result {
	ev, err := r.exec()
	res := Result{Event: ev, Err: err}
	r.done <- res
	return res
}

// Done yields the result once the request has been executed.
func (r *Request) Done() <-chan Result { return r.done }

// Mempool keeps one FIFO queue per class. Select drains admin, then
// cancels, then matches, so a cancel submitted alongside a match wins.
type Mempool struct {
	mu     sync.Mutex
	admin  []*Request
	cancel []*Request
	match  []*Request
}

func New() *Mempool {
	return &Mempool{}
}

func (m *Mempool) Push(r *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch r.Class {
	case ClassAdmin:
		m.admin = append(m.admin, r)
	case ClassCancel:
		m.cancel = append(m.cancel, r)
	default:
		m.match = append(m.match, r)
	}
}

// Select removes and returns up to max requests in execution order. A
// max of zero or less takes everything.
func (m *Mempool) Select(max int) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Request
	pull := func(q *[]*Request) {
		for len(*q) > 0 {
			if max > 0 && len(out) >= max {
				return
			}
			out = append(out, (*q)[0])
			(*q)[0] = nil
			*q = (*q)[1:]
		}
	}

	pull(&m.admin)
	pull(&m.cancel)
	pull(&m.match)
	return out
}

// Len returns total pending requests.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admin) + len(m.cancel) + len(m.match)
}
