package acquire

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gochiller/pkg/chiller"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
)

// ErrAlreadyStarted is returned by Run when the loop has already been started.
var ErrAlreadyStarted = errors.New("acquire: loop already started")

// Config controls polling cadence.
type Config struct {
	PollInterval    time.Duration // wait after an idle poll
	MaxPollInterval time.Duration // idle waits grow up to this; <= PollInterval disables backoff
	Backoff         float64       // idle wait multiplier
}

// DefaultConfig polls every 10ms without backoff.
func DefaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 10 * time.Millisecond,
		Backoff:         2.0,
	}
}

// Stats counts loop outcomes.
type Stats struct {
	Polls        uint64
	Readings     uint64
	DecodeErrors uint64
	Failures     map[FailureKind]uint64
}

// Loop polls a transport and turns what it finds into events. A loop runs
// once: Run and Events may be called a single time between them.
type Loop struct {
	cfg    Config
	tr     chiller.Transport
	schema *frame.Schema
	log    zerolog.Logger

	seq     uint64 // owned by the polling goroutine
	started atomic.Bool

	mu    sync.RWMutex
	stats Stats

	now   func() time.Time
	newID func() uuid.UUID
}

// New creates a loop reading frames of the given schema from tr.
func New(cfg Config, tr chiller.Transport, schema *frame.Schema, logger zerolog.Logger) *Loop {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.Backoff < 1 {
		cfg.Backoff = 1
	}
	if schema == nil {
		schema = frame.Chiller
	}

	return &Loop{
		cfg:    cfg,
		tr:     tr,
		schema: schema,
		log:    logger.With().Str("component", "acquire").Logger(),
		stats:  Stats{Failures: make(map[FailureKind]uint64)},
		now:    time.Now,
		newID:  uuid.New,
	}
}

// Poll runs exactly one iteration: check availability, then either read and
// decode a frame or interpret a negative status. It returns false when the
// poll produced nothing. Poll must not be used while Run or Events is active.
func (l *Loop) Poll() (Event, bool) {
	l.count(func(s *Stats) { s.Polls++ })

	if l.tr.Available() {
		buf := l.tr.ReadFrame(l.schema.TotalLength())
		r, err := frame.Decode(buf, l.schema)
		if err != nil {
			var de *frame.DecodeError
			if !errors.As(err, &de) {
				de = &frame.DecodeError{Reason: frame.InsufficientBytes, Length: len(buf)}
			}
			l.count(func(s *Stats) { s.DecodeErrors++ })
			ev := l.event(EventDecodeError)
			ev.DecodeErr = *de
			return ev, true
		}
		l.count(func(s *Stats) { s.Readings++ })
		ev := l.event(EventReading)
		ev.Reading = r
		return ev, true
	}

	if st := l.tr.Status(); st < 0 {
		f := NewTransportFailure(st)
		l.count(func(s *Stats) { s.Failures[f.Kind]++ })
		ev := l.event(EventFailure)
		ev.Failure = f
		return ev, true
	}

	return Event{}, false
}

// Run polls until ctx is cancelled, delivering every event to sink before the
// next poll. Failures and decode errors never stop it. It returns ctx.Err().
func (l *Loop) Run(ctx context.Context, sink Sink) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return l.run(ctx, func(ev Event) bool {
		Dispatch(ev, sink)
		return true
	})
}

// Events starts the loop and returns its event stream. The channel is
// unbuffered, so polling advances as the consumer receives, and it is closed
// when ctx is cancelled. The stream cannot be restarted: later calls return
// a closed channel.
func (l *Loop) Events(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	if !l.started.CompareAndSwap(false, true) {
		l.log.Warn().Msg("event stream already started")
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		l.run(ctx, func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch
}

// Stats returns a snapshot of the counters.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := l.stats
	out.Failures = make(map[FailureKind]uint64, len(l.stats.Failures))
	for k, v := range l.stats.Failures {
		out.Failures[k] = v
	}
	return out
}

func (l *Loop) run(ctx context.Context, emit func(Event) bool) error {
	l.log.Info().
		Dur("poll_interval", l.cfg.PollInterval).
		Dur("max_poll_interval", l.cfg.MaxPollInterval).
		Msg("acquisition started")
	defer l.log.Info().Msg("acquisition stopped")

	timer := time.NewTimer(l.cfg.PollInterval)
	timer.Stop()
	defer timer.Stop()

	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, ok := l.Poll()
		if ok {
			l.log.Debug().Uint64("seq", ev.Seq).Stringer("kind", ev.Kind).Msg("event")
			if !emit(ev) {
				return ctx.Err()
			}
			// A frame may already be queued behind this one.
			if ev.Kind != EventFailure {
				idle = 0
				continue
			}
		}

		idle++
		timer.Reset(nextPollDelay(l.cfg, idle))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop) event(kind EventKind) Event {
	l.seq++
	return Event{
		Seq:  l.seq,
		ID:   l.newID(),
		At:   l.now(),
		Kind: kind,
	}
}

func (l *Loop) count(f func(*Stats)) {
	l.mu.Lock()
	f(&l.stats)
	l.mu.Unlock()
}

// nextPollDelay returns the wait after the n-th consecutive poll that did not
// yield a frame (1-based).
func nextPollDelay(cfg Config, n int) time.Duration {
	if n <= 1 || cfg.MaxPollInterval <= cfg.PollInterval {
		return cfg.PollInterval
	}
	delay := float64(cfg.PollInterval) * math.Pow(cfg.Backoff, float64(n-1))
	if delay > float64(cfg.MaxPollInterval) {
		delay = float64(cfg.MaxPollInterval)
	}
	return time.Duration(delay)
}
