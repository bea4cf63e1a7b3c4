package transfer

import (
	"errors"
	"io"
	"os"
	"sync"
)

const readChunk = 256

// Link turns a byte stream into SerialTransfer packets using the
// availability/status interface of the original library: poll Available,
// then read the frame, or look at Status when nothing is available.
//
// The reader should return promptly when there is no data (a serial port with
// a read timeout, for example). Link is not safe for concurrent use.
type Link struct {
	r      io.Reader
	parser *Parser

	pending []byte // read from r but not yet fed to the parser
	chunk   []byte
	status  Status
	err     error
	ready   bool
}

// NewLink wraps r.
func NewLink(r io.Reader) *Link {
	return &Link{
		r:      r,
		parser: NewParser(),
		chunk:  make([]byte, readChunk),
		status: StatusNoData,
	}
}

// Available reports whether a complete packet has arrived. It first drains
// bytes left over from the previous call, then reads once from the
// underlying reader. It stops at the first complete packet or packet error,
// keeping the remaining bytes for the next call.
func (l *Link) Available() bool {
	l.ready = false
	l.status = StatusNoData

	if l.feedPending() {
		return l.ready
	}

	n, err := l.r.Read(l.chunk)
	if n > 0 {
		l.pending = append(l.pending, l.chunk[:n]...)
		if l.feedPending() {
			return l.ready
		}
	}
	if err != nil && !isTimeout(err) {
		l.err = err
		l.status = StatusPortError
		return false
	}

	if l.parser.InPacket() {
		l.status = StatusContinue
	}
	return false
}

// feedPending feeds buffered bytes until a packet completes or fails.
// It returns true when it stopped on such an event.
func (l *Link) feedPending() bool {
	for i, b := range l.pending {
		st := l.parser.Feed(b)
		if st == StatusNewData || st < 0 {
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			l.status = st
			l.ready = st == StatusNewData
			return true
		}
	}
	l.pending = l.pending[:0]
	return false
}

// ReadFrame returns a copy of up to n bytes of the last packet's payload.
// A packet shorter than n yields fewer bytes.
func (l *Link) ReadFrame(n int) []byte {
	payload := l.parser.Payload()
	if n > len(payload) {
		n = len(payload)
	}
	if n < 0 {
		n = 0
	}
	out := make([]byte, n)
	copy(out, payload[:n])
	return out
}

// PayloadLen returns the full payload length of the last packet, which may
// exceed what ReadFrame was asked for.
func (l *Link) PayloadLen() int {
	return len(l.parser.Payload())
}

// Status returns the status of the last Available call.
func (l *Link) Status() int {
	return int(l.status)
}

// PacketID returns the id of the last complete packet.
func (l *Link) PacketID() byte {
	return l.parser.PacketID()
}

// Err returns the last error reported by the underlying reader.
func (l *Link) Err() error {
	return l.err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Pipe is an in-memory byte stream for feeding a Link from code, used by the
// simulated controller. Reads never block: an empty pipe returns 0, nil.
type Pipe struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

// Write appends p to the stream.
func (p *Pipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	p.buf = append(p.buf, b...)
	return len(b), nil
}

// Read drains up to len(b) buffered bytes.
func (p *Pipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		if p.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// Close marks the stream finished; buffered bytes can still be read.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
