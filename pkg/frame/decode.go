package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

var (
	ErrInsufficientBytes = errors.New("frame: insufficient bytes")
	ErrTypeMismatch      = errors.New("frame: type mismatch")
)

// Reason classifies a DecodeError.
type Reason int

const (
	InsufficientBytes Reason = iota + 1
	TypeMismatch
)

func (r Reason) String() string {
	switch r {
	case InsufficientBytes:
		return "insufficient bytes"
	case TypeMismatch:
		return "type mismatch"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// DecodeError reports the field at which a frame could not be decoded.
type DecodeError struct {
	Field  string `json:"field"`
	Reason Reason `json:"reason"`
	Offset int    `json:"offset"` // byte offset of Field
	Length int    `json:"length"` // length of the buffer that was decoded
}

func (e *DecodeError) Error() string {
	if e.Reason == InsufficientBytes {
		return fmt.Sprintf("frame: field %q at offset %d: %s (buffer has %d bytes)", e.Field, e.Offset, e.Reason, e.Length)
	}
	return fmt.Sprintf("frame: field %q at offset %d: %s", e.Field, e.Offset, e.Reason)
}

// Is lets errors.Is match the Reason sentinels.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrInsufficientBytes:
		return e.Reason == InsufficientBytes
	case ErrTypeMismatch:
		return e.Reason == TypeMismatch
	}
	return false
}

// Decode unpacks buf into a Reading following the schema's field order.
// Values are little-endian and taken as-is; no scaling is applied.
//
// A field that runs past the end of buf aborts decoding with an
// InsufficientBytes error. A field whose kind does not fit its Reading slot
// does not stop the walk; the first such field is reported once all bytes
// are accounted for.
func Decode(buf []byte, s *Schema) (Reading, error) {
	var (
		r        Reading
		offset   int
		mismatch *DecodeError
	)

	for _, f := range s.fields {
		width := int(f.Width)
		if offset+width > len(buf) {
			return Reading{}, &DecodeError{Field: f.Path, Reason: InsufficientBytes, Offset: offset, Length: len(buf)}
		}

		raw := buf[offset : offset+width]
		if sl, ok := slots[f.Path]; ok {
			if !sl.accepts(f.Kind) {
				if mismatch == nil {
					mismatch = &DecodeError{Field: f.Path, Reason: TypeMismatch, Offset: offset, Length: len(buf)}
				}
			} else {
				store(&r, sl, f.Kind, raw)
			}
		}

		offset += width
	}

	if mismatch != nil {
		return Reading{}, mismatch
	}
	return r, nil
}

func store(r *Reading, sl slot, k Kind, raw []byte) {
	switch k {
	case Float32:
		*sl.f32(r) = math32.Float32frombits(binary.LittleEndian.Uint32(raw))
	case Int8:
		*sl.i8(r) = int8(raw[0])
	case Int16:
		*sl.i16(r) = int16(binary.LittleEndian.Uint16(raw))
	case Int32:
		*sl.i32(r) = int32(binary.LittleEndian.Uint32(raw))
	case Bool8:
		*sl.flag(r) = int8(raw[0]) > 0
	}
}

// Encode packs r into exactly s.TotalLength() bytes. Booleans are written as
// 1 and 0. Fields with no Reading slot are left zero.
func Encode(r Reading, s *Schema) ([]byte, error) {
	buf := make([]byte, s.total)
	offset := 0

	for _, f := range s.fields {
		raw := buf[offset : offset+int(f.Width)]
		offset += int(f.Width)

		sl, ok := slots[f.Path]
		if !ok {
			continue
		}
		if !sl.accepts(f.Kind) {
			return nil, &DecodeError{Field: f.Path, Reason: TypeMismatch, Offset: offset - int(f.Width), Length: len(buf)}
		}

		switch f.Kind {
		case Float32:
			binary.LittleEndian.PutUint32(raw, math32.Float32bits(*sl.f32(&r)))
		case Int8:
			raw[0] = byte(*sl.i8(&r))
		case Int16:
			binary.LittleEndian.PutUint16(raw, uint16(*sl.i16(&r)))
		case Int32:
			binary.LittleEndian.PutUint32(raw, uint32(*sl.i32(&r)))
		case Bool8:
			if *sl.flag(&r) {
				raw[0] = 1
			}
		}
	}

	return buf, nil
}
