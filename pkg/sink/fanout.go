package sink

import (
	"errors"
	"io"

	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
)

// Fanout forwards each event to every sink, in order.
type Fanout []acquire.Sink

var (
	_ acquire.Sink      = Fanout(nil)
	_ acquire.EventSink = Fanout(nil)
)

// NewFanout skips nil sinks.
func NewFanout(sinks ...acquire.Sink) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// OnEvent hands ev to each sink, whole where the sink accepts it.
func (f Fanout) OnEvent(ev acquire.Event) {
	for _, s := range f {
		acquire.Dispatch(ev, s)
	}
}

func (f Fanout) OnReading(r frame.Reading) {
	for _, s := range f {
		s.OnReading(r)
	}
}

func (f Fanout) OnFailure(tf acquire.TransportFailure) {
	for _, s := range f {
		s.OnFailure(tf)
	}
}

func (f Fanout) OnDecodeError(e frame.DecodeError) {
	for _, s := range f {
		s.OnDecodeError(e)
	}
}

// Close closes every sink that can be closed, in reverse order.
func (f Fanout) Close() error {
	var errs []error
	for i := len(f) - 1; i >= 0; i-- {
		if c, ok := f[i].(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
