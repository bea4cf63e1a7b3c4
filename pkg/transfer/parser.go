package transfer

type parseState int

const (
	stateStart parseState = iota
	stateID
	stateOverhead
	stateLen
	statePayload
	stateCRC
	stateStop
)

// Parser is a byte-fed SerialTransfer packet decoder.
type Parser struct {
	state    parseState
	id       byte
	overhead byte
	want     int
	buf      [MaxPayloadSize]byte
	n        int

	payload []byte // last complete packet, unstuffed
	lastID  byte
}

// NewParser returns a parser waiting for a start byte.
func NewParser() *Parser {
	return &Parser{state: stateStart}
}

// Feed consumes one byte. It returns StatusNewData when b completes a packet,
// a negative status when b exposes a corrupted packet, and StatusContinue or
// StatusNoData otherwise. After an error the parser resynchronises on the
// next start byte.
func (p *Parser) Feed(b byte) Status {
	switch p.state {
	case stateStart:
		if b == StartByte {
			p.state = stateID
			return StatusContinue
		}
		return StatusNoData

	case stateID:
		p.id = b
		p.state = stateOverhead

	case stateOverhead:
		p.overhead = b
		p.state = stateLen

	case stateLen:
		if b == 0 || int(b) > MaxPayloadSize {
			p.reset()
			return StatusPayloadError
		}
		p.want = int(b)
		p.n = 0
		p.state = statePayload

	case statePayload:
		p.buf[p.n] = b
		p.n++
		if p.n == p.want {
			p.state = stateCRC
		}

	case stateCRC:
		if CRC8(p.buf[:p.want]) != b {
			p.reset()
			return StatusCRCError
		}
		p.state = stateStop

	case stateStop:
		if b != StopByte {
			p.reset()
			return StatusStopByteError
		}
		payload := make([]byte, p.want)
		copy(payload, p.buf[:p.want])
		unstuff(payload, p.overhead)
		p.payload = payload
		p.lastID = p.id
		p.reset()
		return StatusNewData
	}

	return StatusContinue
}

// Payload returns the payload of the last complete packet.
func (p *Parser) Payload() []byte {
	return p.payload
}

// PacketID returns the id of the last complete packet.
func (p *Parser) PacketID() byte {
	return p.lastID
}

// InPacket reports whether the parser is in the middle of a packet.
func (p *Parser) InPacket() bool {
	return p.state != stateStart
}

func (p *Parser) reset() {
	p.state = stateStart
	p.want = 0
	p.n = 0
}
