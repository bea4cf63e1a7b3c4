// Package transfer implements the SerialTransfer packet format used by the
// chiller controller firmware:
//
//	0x7E | id | overhead | len | stuffed payload (1..254) | crc8 | 0x81
//
// Payload bytes equal to the start marker are replaced by the distance to the
// next marker (0 for the last one). The overhead byte holds the index of the
// first replaced byte, or 0xFF when the payload has none. The CRC covers the
// stuffed payload.
package transfer

import (
	"errors"
	"fmt"
)

const (
	StartByte      byte = 0x7E
	StopByte       byte = 0x81
	MaxPayloadSize      = 254
	noOverhead     byte = 0xFF
)

// Status mirrors the SerialTransfer status values. Negative values are errors.
type Status int

const (
	StatusContinue      Status = 2
	StatusNewData       Status = 1
	StatusNoData        Status = 0
	StatusCRCError      Status = -1
	StatusPayloadError  Status = -2
	StatusStopByteError Status = -3
	StatusPortError     Status = -4 // reading the underlying port failed
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusNewData:
		return "NEW_DATA"
	case StatusNoData:
		return "NO_DATA"
	case StatusCRCError:
		return "CRC_ERROR"
	case StatusPayloadError:
		return "PAYLOAD_ERROR"
	case StatusStopByteError:
		return "STOP_BYTE_ERROR"
	case StatusPortError:
		return "PORT_ERROR"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

var (
	ErrEmptyPayload    = errors.New("transfer: empty payload")
	ErrPayloadTooLarge = errors.New("transfer: payload too large")
)

// Encode builds a complete packet carrying payload.
func Encode(id byte, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	stuffed := make([]byte, len(payload))
	copy(stuffed, payload)
	overhead := stuff(stuffed)

	pkt := make([]byte, 0, len(stuffed)+6)
	pkt = append(pkt, StartByte, id, overhead, byte(len(stuffed)))
	pkt = append(pkt, stuffed...)
	pkt = append(pkt, CRC8(stuffed), StopByte)
	return pkt, nil
}

// stuff replaces start markers in place and returns the overhead byte.
func stuff(b []byte) byte {
	overhead := noOverhead
	next := -1
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != StartByte {
			continue
		}
		if next < 0 {
			b[i] = 0
		} else {
			b[i] = byte(next - i)
		}
		next = i
	}
	if next >= 0 {
		overhead = byte(next)
	}
	return overhead
}

// unstuff restores start markers in place.
func unstuff(b []byte, overhead byte) {
	if overhead == noOverhead {
		return
	}
	i := int(overhead)
	for i < len(b) {
		delta := b[i]
		b[i] = StartByte
		if delta == 0 {
			return
		}
		i += int(delta)
	}
}

var crcTable = makeCRCTable(0x9B)

func makeCRCTable(poly byte) [256]byte {
	var t [256]byte
	for i := range t {
		c := byte(i)
		for j := 0; j < 8; j++ {
			if c&0x80 != 0 {
				c = (c << 1) ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// CRC8 computes the SerialTransfer checksum (poly 0x9B, init 0, unreflected).
func CRC8(b []byte) byte {
	var crc byte
	for _, v := range b {
		crc = crcTable[crc^v]
	}
	return crc
}
