package chiller

import (
	"fmt"
	"sync"
	"time"

	"github.com/itohio/gochiller/pkg/transfer"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the controller's UART speed.
	DefaultBaudRate = 19200
	// DefaultReadTimeout bounds a single port read so polling never blocks long.
	DefaultReadTimeout = 50 * time.Millisecond
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the chiller controller over a serial port.
type Serial struct {
	port        string
	baudRate    int
	readTimeout time.Duration
	log         zerolog.Logger

	mu        sync.RWMutex
	conn      serial.Port
	link      *transfer.Link
	connected bool
}

// New creates a Serial transport for the given port. Zero values select
// the defaults.
func New(port string, baudRate int, readTimeout time.Duration, logger zerolog.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		log:         logger.With().Str("port", port).Logger(),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, err := serial.GetPortsList()
		if err != nil {
			return nil, fmt.Errorf("failed to list serial ports: %w", err)
		}
		result := make([]Port, 0, len(names))
		for _, name := range names {
			result = append(result, Port{Name: name, Description: name})
		}
		return result, nil
	}

	result := make([]Port, 0, len(details))
	for _, d := range details {
		desc := d.Name
		if d.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", d.Name, d.VID, d.PID, d.Product)
		}
		result = append(result, Port{Name: d.Name, Description: desc})
	}
	return result, nil
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := port.SetReadTimeout(d.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}

	d.conn = port
	d.link = transfer.NewLink(port)
	d.connected = true
	d.log.Info().Int("baud", d.baudRate).Msg("serial port opened")

	return nil
}

// Close closes the port. Closing a closed transport is a no-op.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	if err := d.conn.Close(); err != nil {
		d.log.Warn().Err(err).Msg("error closing serial port")
	}
	d.conn = nil
	d.connected = false

	return nil
}

// IsConnected returns whether the port is currently open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Available reads whatever the port has and reports whether a packet is ready.
func (d *Serial) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return false
	}
	ok := d.link.Available()
	if err := d.link.Err(); err != nil && d.link.Status() == int(transfer.StatusPortError) {
		d.log.Debug().Err(err).Msg("serial read failed")
	}
	return ok
}

// ReadFrame returns up to n bytes of the last packet.
func (d *Serial) ReadFrame(n int) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.link == nil {
		return nil
	}
	return readFrame(d.link, n, d.log)
}

// readFrame reads n bytes of the last packet. A longer packet usually means
// firmware with more fields than the schema, so the dropped tail is reported.
func readFrame(link *transfer.Link, n int, log zerolog.Logger) []byte {
	if size := link.PayloadLen(); size > n {
		log.Warn().
			Int("payload", size).
			Int("frame", n).
			Msg("packet longer than frame, trailing bytes ignored")
	}
	return link.ReadFrame(n)
}

// Status returns the link status. A closed port reports a port error.
func (d *Serial) Status() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return int(transfer.StatusPortError)
	}
	return d.link.Status()
}
