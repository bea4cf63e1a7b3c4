package acquire

import (
	"fmt"

	"github.com/itohio/gochiller/pkg/transfer"
)

// FailureKind classifies a negative transport status.
type FailureKind int

const (
	Unknown FailureKind = iota
	ChecksumError
	PayloadError
	FramingError
)

func (k FailureKind) String() string {
	switch k {
	case ChecksumError:
		return "checksum_error"
	case PayloadError:
		return "payload_error"
	case FramingError:
		return "framing_error"
	default:
		return "unknown"
	}
}

func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Interpret maps a transport status to a failure kind. The codes are the
// SerialTransfer ones: -1 CRC, -2 payload, -3 stop byte. Any other value,
// including the port error and non-negative statuses, is Unknown.
func Interpret(status int) FailureKind {
	switch transfer.Status(status) {
	case transfer.StatusCRCError:
		return ChecksumError
	case transfer.StatusPayloadError:
		return PayloadError
	case transfer.StatusStopByteError:
		return FramingError
	default:
		return Unknown
	}
}

// TransportFailure is reported when no frame is available and the transport
// status is negative.
type TransportFailure struct {
	Kind      FailureKind `json:"kind"`
	RawStatus int         `json:"raw_status"`
}

// NewTransportFailure interprets status.
func NewTransportFailure(status int) TransportFailure {
	return TransportFailure{Kind: Interpret(status), RawStatus: status}
}

func (f TransportFailure) Error() string {
	return fmt.Sprintf("acquire: transport failure %s (status %d)", f.Kind, f.RawStatus)
}
