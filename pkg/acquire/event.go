package acquire

import (
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gochiller/pkg/frame"
)

// EventKind tells which payload of an Event is set.
type EventKind int

const (
	EventReading EventKind = iota + 1
	EventFailure
	EventDecodeError
)

func (k EventKind) String() string {
	switch k {
	case EventReading:
		return "reading"
	case EventFailure:
		return "failure"
	case EventDecodeError:
		return "decode_error"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is the outcome of one productive poll.
type Event struct {
	Seq  uint64    `json:"seq"` // strictly increasing per loop
	ID   uuid.UUID `json:"id"`
	At   time.Time `json:"at"`
	Kind EventKind `json:"kind"`

	Reading   frame.Reading     `json:"reading,omitzero"`
	Failure   TransportFailure  `json:"failure,omitzero"`
	DecodeErr frame.DecodeError `json:"decode_error,omitzero"`
}

// Err returns the failure or decode error carried by the event, nil for readings.
func (e Event) Err() error {
	switch e.Kind {
	case EventFailure:
		return e.Failure
	case EventDecodeError:
		return &e.DecodeErr
	default:
		return nil
	}
}

// Sink consumes acquisition events. Implementations must not modify the
// readings they receive; the same value may be shared by several sinks.
type Sink interface {
	OnReading(frame.Reading)
	OnFailure(TransportFailure)
	OnDecodeError(frame.DecodeError)
}

// EventSink is implemented by sinks that want the whole event, identity
// included, instead of the bare payload.
type EventSink interface {
	OnEvent(Event)
}

// SinkFuncs adapts plain functions to a Sink. Nil functions ignore the event.
type SinkFuncs struct {
	Reading     func(frame.Reading)
	Failure     func(TransportFailure)
	DecodeError func(frame.DecodeError)
}

func (s SinkFuncs) OnReading(r frame.Reading) {
	if s.Reading != nil {
		s.Reading(r)
	}
}

func (s SinkFuncs) OnFailure(f TransportFailure) {
	if s.Failure != nil {
		s.Failure(f)
	}
}

func (s SinkFuncs) OnDecodeError(e frame.DecodeError) {
	if s.DecodeError != nil {
		s.DecodeError(e)
	}
}

// Dispatch delivers ev to s: whole to an EventSink, otherwise to the method
// matching its kind.
func Dispatch(ev Event, s Sink) {
	if es, ok := s.(EventSink); ok {
		es.OnEvent(ev)
		return
	}
	switch ev.Kind {
	case EventReading:
		s.OnReading(ev.Reading)
	case EventFailure:
		s.OnFailure(ev.Failure)
	case EventDecodeError:
		s.OnDecodeError(ev.DecodeErr)
	}
}
