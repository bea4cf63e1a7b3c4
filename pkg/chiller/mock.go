package chiller

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gochiller/pkg/config"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/itohio/gochiller/pkg/transfer"
	"github.com/rs/zerolog"
)

// Mock simulates the chiller controller. It encodes simulated readings into
// SerialTransfer packets and feeds them through the same link code the
// serial transport uses, optionally corrupting a share of them.
type Mock struct {
	cfg *config.MockConfig
	log zerolog.Logger

	mu        sync.RWMutex
	pipe      *transfer.Pipe
	link      *transfer.Link
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	sent      atomic.Uint64
	corrupted atomic.Uint64
}

// NewMock creates a new simulated controller.
func NewMock(cfg *config.MockConfig, logger zerolog.Logger) *Mock {
	c := config.Default().Mock
	if cfg != nil {
		c = *cfg
	}
	if c.FrameRate <= 0 {
		c.FrameRate = config.Default().Mock.FrameRate
	}

	return &Mock{
		cfg: &c,
		log: logger.With().Str("transport", "mock").Logger(),
	}
}

// Connect starts emitting packets.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.pipe = &transfer.Pipe{}
	m.link = transfer.NewLink(m.pipe)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.connected = true

	seed := uint64(m.cfg.Seed)
	sim := newSimulator(m.cfg.Setpoint, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	go m.generate(ctx, m.pipe, sim, m.done)

	return nil
}

// Close stops the simulation and waits for the generator to exit.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	<-m.done
	m.pipe.Close()
	m.connected = false

	m.log.Debug().
		Uint64("sent", m.sent.Load()).
		Uint64("corrupted", m.corrupted.Load()).
		Msg("mock stopped")

	return nil
}

// IsConnected returns whether the simulation is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Available reports whether a complete packet has been received.
func (m *Mock) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return false
	}
	return m.link.Available()
}

// ReadFrame returns up to n bytes of the last packet.
func (m *Mock) ReadFrame(n int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.link == nil {
		return nil
	}
	return readFrame(m.link, n, m.log)
}

// Status returns the link status. A stopped mock reports a port error.
func (m *Mock) Status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return int(transfer.StatusPortError)
	}
	return m.link.Status()
}

// Sent returns the number of packets emitted and how many were corrupted.
func (m *Mock) Sent() (sent, corrupted uint64) {
	return m.sent.Load(), m.corrupted.Load()
}

// generate emits one packet per frame period until ctx is cancelled.
func (m *Mock) generate(ctx context.Context, pipe *transfer.Pipe, sim *simulator, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.FrameRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pkt, err := m.packet(sim)
			if err != nil {
				m.log.Error().Err(err).Msg("failed to encode simulated frame")
				continue
			}
			if _, err := pipe.Write(pkt); err != nil {
				return
			}
			m.sent.Add(1)
		}
	}
}

// packet advances the simulation by one frame period and frames the reading.
func (m *Mock) packet(sim *simulator) ([]byte, error) {
	r := sim.step(m.cfg.FrameRate)

	payload, err := frame.Encode(r, frame.Chiller)
	if err != nil {
		return nil, err
	}
	pkt, err := transfer.Encode(0, payload)
	if err != nil {
		return nil, err
	}

	if m.cfg.ErrorRate > 0 && sim.rng.Float64() < m.cfg.ErrorRate {
		m.corrupted.Add(1)
		pkt = corrupt(pkt, corruption(sim.rng.IntN(3)))
	}
	return pkt, nil
}

type corruption int

const (
	corruptCRC corruption = iota
	corruptStop
	corruptLength
)

// corrupt damages an encoded packet so the receiver reports the matching
// error status.
func corrupt(pkt []byte, c corruption) []byte {
	out := append([]byte(nil), pkt...)
	switch c {
	case corruptCRC:
		out[len(out)-2] ^= 0xFF
	case corruptStop:
		out[len(out)-1] = 0x00
	case corruptLength:
		// Header only, declaring an empty payload.
		out = out[:4]
		out[3] = 0
	}
	return out
}
