package sink

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is the default number of events Async buffers.
const DefaultQueueSize = 100

// Async queues events for a slower sink and delivers them from its own
// goroutine, in arrival order. When the queue is full the event is dropped
// with a warning rather than holding up the caller.
type Async struct {
	next acquire.Sink
	log  zerolog.Logger

	mu     sync.RWMutex
	queue  chan acquire.Event
	closed bool
	once   sync.Once
	done   chan struct{}

	dropped atomic.Uint64
}

var (
	_ acquire.Sink      = (*Async)(nil)
	_ acquire.EventSink = (*Async)(nil)
)

// NewAsync starts delivering to next.
func NewAsync(next acquire.Sink, size int, logger zerolog.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	a := &Async{
		next:  next,
		log:   logger,
		queue: make(chan acquire.Event, size),
		done:  make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *Async) OnEvent(ev acquire.Event) {
	a.enqueue(ev)
}

func (a *Async) OnReading(r frame.Reading) {
	a.enqueue(acquire.Event{Kind: acquire.EventReading, Reading: r})
}

func (a *Async) OnFailure(f acquire.TransportFailure) {
	a.enqueue(acquire.Event{Kind: acquire.EventFailure, Failure: f})
}

func (a *Async) OnDecodeError(e frame.DecodeError) {
	a.enqueue(acquire.Event{Kind: acquire.EventDecodeError, DecodeErr: e})
}

// Dropped returns how many events were discarded.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops accepting events, waits for the queue to drain and closes the
// wrapped sink if it can be closed.
func (a *Async) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done

	if c, ok := a.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Async) enqueue(ev acquire.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- ev:
	default:
		n := a.dropped.Add(1)
		a.log.Warn().Stringer("kind", ev.Kind).Uint64("dropped", n).Msg("sink queue full, dropping event")
	}
}

func (a *Async) deliver() {
	defer close(a.done)
	for ev := range a.queue {
		acquire.Dispatch(ev, a.next)
	}
}
