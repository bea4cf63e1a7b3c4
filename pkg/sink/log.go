// Package sink holds the consumers of acquisition events: logging,
// per-reading JSON files, Kafka, Postgres and the fan-out and queueing
// helpers that combine them.
package sink

import (
	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
)

// Log writes events to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

var (
	_ acquire.Sink      = (*Log)(nil)
	_ acquire.EventSink = (*Log)(nil)
)

// NewLog creates a logging sink.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("sink", "log").Logger()}
}

// OnEvent logs ev tagged with its sequence number.
func (l *Log) OnEvent(ev acquire.Event) {
	tagged := &Log{log: l.log.With().Uint64("seq", ev.Seq).Logger()}
	switch ev.Kind {
	case acquire.EventReading:
		tagged.OnReading(ev.Reading)
	case acquire.EventFailure:
		tagged.OnFailure(ev.Failure)
	case acquire.EventDecodeError:
		tagged.OnDecodeError(ev.DecodeErr)
	}
}

func (l *Log) OnReading(r frame.Reading) {
	l.log.Info().Fields(r.Flatten()).Msg("reading")
}

func (l *Log) OnFailure(f acquire.TransportFailure) {
	l.log.Warn().
		Stringer("kind", f.Kind).
		Int("status", f.RawStatus).
		Msg("transport failure")
}

func (l *Log) OnDecodeError(e frame.DecodeError) {
	l.log.Error().
		Str("field", e.Field).
		Stringer("reason", e.Reason).
		Int("offset", e.Offset).
		Int("length", e.Length).
		Msg("frame decode failed")
}
