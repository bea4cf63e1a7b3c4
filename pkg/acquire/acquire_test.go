package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted poll: either a frame or a status.
type step struct {
	frame  []byte
	status int
}

// scripted replays steps one per Available call, then reports no data.
type scripted struct {
	mu     sync.Mutex
	steps  []step
	cur    step
	reads  int
	polls  int
	readAt []int // poll index of every ReadFrame
}

func (s *scripted) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if len(s.steps) == 0 {
		s.cur = step{}
		return false
	}
	s.cur, s.steps = s.steps[0], s.steps[1:]
	return s.cur.frame != nil
}

func (s *scripted) ReadFrame(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	s.readAt = append(s.readAt, s.polls)
	if n > len(s.cur.frame) {
		n = len(s.cur.frame)
	}
	return append([]byte(nil), s.cur.frame[:n]...)
}

func (s *scripted) Status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.status
}

func encoded(t *testing.T, temp float32) []byte {
	t.Helper()
	var r frame.Reading
	r.Reservoir.Temperature = temp
	r.Compressor.Running = true
	b, err := frame.Encode(r, frame.Chiller)
	require.NoError(t, err)
	return b
}

func newTestLoop(tr *scripted) *Loop {
	l := New(Config{PollInterval: time.Millisecond}, tr, frame.Chiller, zerolog.Nop())
	return l
}

// recorder is a Sink keeping every call in order.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	reads  []frame.Reading
	fails  []TransportFailure
	decode []frame.DecodeError
}

func (r *recorder) OnReading(rd frame.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "reading")
	r.reads = append(r.reads, rd)
}

func (r *recorder) OnFailure(f TransportFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "failure")
	r.fails = append(r.fails, f)
}

func (r *recorder) OnDecodeError(e frame.DecodeError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "decode_error")
	r.decode = append(r.decode, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		status int
		want   FailureKind
	}{
		{-1, ChecksumError},
		{-2, PayloadError},
		{-3, FramingError},
		{-4, Unknown},
		{-99, Unknown},
		{0, Unknown},
		{2, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Interpret(tt.status))
		})
	}
}

func TestTransportFailure_Error(t *testing.T) {
	f := NewTransportFailure(-7)
	assert.Equal(t, Unknown, f.Kind)
	assert.Equal(t, -7, f.RawStatus)
	assert.Contains(t, f.Error(), "unknown")
	assert.Contains(t, f.Error(), "-7")

	var err error = NewTransportFailure(-1)
	var tf TransportFailure
	require.True(t, errors.As(err, &tf))
	assert.Equal(t, ChecksumError, tf.Kind)
}

func TestPoll_ChecksumFailureConsumesNothing(t *testing.T) {
	tr := &scripted{steps: []step{{status: -1}}}
	l := newTestLoop(tr)

	ev, ok := l.Poll()
	require.True(t, ok)
	assert.Equal(t, EventFailure, ev.Kind)
	assert.Equal(t, TransportFailure{Kind: ChecksumError, RawStatus: -1}, ev.Failure)
	assert.Zero(t, tr.reads)

	// Polling continues.
	_, ok = l.Poll()
	assert.False(t, ok)
	assert.Equal(t, 2, tr.polls)
}

func TestPoll_NonNegativeStatusIsSilent(t *testing.T) {
	tr := &scripted{steps: []step{{status: 0}, {status: 2}, {status: 1}}}
	l := newTestLoop(tr)

	for i := 0; i < 3; i++ {
		_, ok := l.Poll()
		assert.False(t, ok)
	}
	assert.Zero(t, tr.reads)
	assert.Equal(t, uint64(3), l.Stats().Polls)
}

func TestPoll_ReadsExactlySchemaLength(t *testing.T) {
	long := append(encoded(t, 21.5), 0xAA, 0xBB)
	tr := &scripted{steps: []step{{frame: long}}}
	l := newTestLoop(tr)

	ev, ok := l.Poll()
	require.True(t, ok)
	assert.Equal(t, EventReading, ev.Kind)
	assert.Equal(t, float32(21.5), ev.Reading.Reservoir.Temperature)
	assert.True(t, ev.Reading.Compressor.Running)
	assert.NoError(t, ev.Err())
}

func TestPoll_AlternatingFivePolls(t *testing.T) {
	tr := &scripted{steps: []step{
		{frame: encoded(t, 1)},
		{status: -1},
		{frame: encoded(t, 2)},
		{status: -3},
		{frame: encoded(t, 3)},
	}}
	l := newTestLoop(tr)

	var events []Event
	for i := 0; i < 5; i++ {
		ev, ok := l.Poll()
		require.True(t, ok, "poll %d", i)
		events = append(events, ev)
	}

	wantKinds := []EventKind{EventReading, EventFailure, EventReading, EventFailure, EventReading}
	for i, ev := range events {
		assert.Equal(t, wantKinds[i], ev.Kind)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.NotEqual(t, uuid.Nil, ev.ID)
	}
	assert.Equal(t, float32(1), events[0].Reading.Reservoir.Temperature)
	assert.Equal(t, ChecksumError, events[1].Failure.Kind)
	assert.Equal(t, float32(2), events[2].Reading.Reservoir.Temperature)
	assert.Equal(t, FramingError, events[3].Failure.Kind)
	assert.Equal(t, float32(3), events[4].Reading.Reservoir.Temperature)
	assert.Equal(t, []int{1, 3, 5}, tr.readAt)

	st := l.Stats()
	assert.Equal(t, uint64(5), st.Polls)
	assert.Equal(t, uint64(3), st.Readings)
	assert.Equal(t, uint64(1), st.Failures[ChecksumError])
	assert.Equal(t, uint64(1), st.Failures[FramingError])
}

func TestPoll_ShortFrameIsDecodeError(t *testing.T) {
	tr := &scripted{steps: []step{{frame: make([]byte, 47)}}}
	l := newTestLoop(tr)

	ev, ok := l.Poll()
	require.True(t, ok)
	assert.Equal(t, EventDecodeError, ev.Kind)
	assert.Equal(t, "compressor.valve_time", ev.DecodeErr.Field)
	assert.Equal(t, frame.InsufficientBytes, ev.DecodeErr.Reason)
	assert.ErrorIs(t, ev.Err(), frame.ErrInsufficientBytes)
	assert.Equal(t, uint64(1), l.Stats().DecodeErrors)
}

func TestRun_DeliversInOrderAndSurvivesErrors(t *testing.T) {
	tr := &scripted{steps: []step{
		{frame: encoded(t, 10)},
		{frame: make([]byte, 3)},
		{status: -2},
		{status: 0},
		{frame: encoded(t, 11)},
		{status: -9},
	}}
	l := newTestLoop(tr)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, rec) }()

	require.Eventually(t, func() bool { return rec.len() == 5 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.Equal(t, []string{"reading", "decode_error", "failure", "reading", "failure"}, rec.calls)
	assert.Equal(t, PayloadError, rec.fails[0].Kind)
	assert.Equal(t, Unknown, rec.fails[1].Kind)
	assert.Equal(t, -9, rec.fails[1].RawStatus)
	assert.Equal(t, "reservoir.temperature", rec.decode[0].Field)

	assert.ErrorIs(t, l.Run(context.Background(), rec), ErrAlreadyStarted)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	l := newTestLoop(&scripted{steps: []step{{frame: encoded(t, 1)}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &recorder{}
	assert.ErrorIs(t, l.Run(ctx, rec), context.Canceled)
	assert.Zero(t, rec.len())
}

func TestEvents_StreamAndClose(t *testing.T) {
	tr := &scripted{steps: []step{
		{frame: encoded(t, 5)},
		{status: -1},
		{frame: encoded(t, 6)},
	}}
	l := newTestLoop(tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := l.Events(ctx)

	var got []Event
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not received", i)
		}
	}
	assert.Equal(t, EventReading, got[0].Kind)
	assert.Equal(t, EventFailure, got[1].Kind)
	assert.Equal(t, EventReading, got[2].Kind)
	assert.Less(t, got[0].Seq, got[1].Seq)
	assert.Less(t, got[1].Seq, got[2].Seq)

	cancel()
	select {
	case _, ok := <-drain(events):
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

// drain discards remaining events and signals once ch is closed.
func drain(ch <-chan Event) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		for range ch {
		}
		close(out)
	}()
	return out
}

func TestEvents_NotRestartable(t *testing.T) {
	l := newTestLoop(&scripted{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := l.Events(ctx)
	second := l.Events(ctx)

	_, ok := <-second
	assert.False(t, ok)
	assert.ErrorIs(t, l.Run(ctx, &recorder{}), ErrAlreadyStarted)

	cancel()
	<-drain(first)
}

func TestNextPollDelay(t *testing.T) {
	cfg := Config{PollInterval: 10 * time.Millisecond, MaxPollInterval: 100 * time.Millisecond, Backoff: 2}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 80 * time.Millisecond},
		{5, 100 * time.Millisecond},
		{500, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextPollDelay(cfg, tt.n), "n=%d", tt.n)
	}

	fixed := Config{PollInterval: 10 * time.Millisecond, MaxPollInterval: 10 * time.Millisecond, Backoff: 2}
	assert.Equal(t, 10*time.Millisecond, nextPollDelay(fixed, 7))
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{}, &scripted{}, nil, zerolog.Nop())
	assert.Equal(t, DefaultConfig().PollInterval, l.cfg.PollInterval)
	assert.Equal(t, l.cfg.PollInterval, l.cfg.MaxPollInterval)
	assert.Equal(t, 1.0, l.cfg.Backoff)
	assert.Same(t, frame.Chiller, l.schema)
}

func TestDispatch(t *testing.T) {
	var got []EventKind
	s := SinkFuncs{
		Reading:     func(frame.Reading) { got = append(got, EventReading) },
		Failure:     func(TransportFailure) { got = append(got, EventFailure) },
		DecodeError: func(frame.DecodeError) { got = append(got, EventDecodeError) },
	}
	Dispatch(Event{Kind: EventFailure}, s)
	Dispatch(Event{Kind: EventReading}, s)
	Dispatch(Event{Kind: EventDecodeError}, s)
	Dispatch(Event{}, s)
	Dispatch(Event{Kind: EventReading}, SinkFuncs{})

	assert.Equal(t, []EventKind{EventFailure, EventReading, EventDecodeError}, got)
}

func TestEvent_JSON(t *testing.T) {
	ev := Event{
		Seq:     3,
		ID:      uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
		At:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:    EventFailure,
		Failure: NewTransportFailure(-2),
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "failure", m["kind"])
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", m["id"])
	assert.Equal(t, map[string]any{"kind": "payload_error", "raw_status": float64(-2)}, m["failure"])
	assert.NotContains(t, m, "reading")
	assert.NotContains(t, m, "decode_error")
}

// eventRecorder wants whole events.
type eventRecorder struct {
	recorder
	events []Event
}

func (r *eventRecorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestDispatch_EventSink(t *testing.T) {
	rec := &eventRecorder{}
	ev := Event{Seq: 7, ID: uuid.New(), Kind: EventReading}

	Dispatch(ev, rec)

	assert.Equal(t, []Event{ev}, rec.snapshot())
	assert.Zero(t, rec.len(), "payload methods are bypassed")
}

func TestRun_EventSinkKeepsIdentity(t *testing.T) {
	tr := &scripted{steps: []step{
		{frame: encoded(t, 10)},
		{status: -1},
		{frame: make([]byte, 3)},
		{frame: encoded(t, 11)},
	}}
	l := newTestLoop(tr)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return at }
	rec := &eventRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, rec) }()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, 2*time.Second, time.Millisecond)
	cancel()
	<-done

	events := rec.snapshot()
	ids := map[uuid.UUID]bool{}
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.NotEqual(t, uuid.Nil, ev.ID)
		assert.Equal(t, at, ev.At)
		ids[ev.ID] = true
	}
	assert.Len(t, ids, 4)
	assert.Equal(t, []EventKind{EventReading, EventFailure, EventDecodeError, EventReading},
		[]EventKind{events[0].Kind, events[1].Kind, events[2].Kind, events[3].Kind})
}
