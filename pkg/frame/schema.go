package frame

import (
	"fmt"
)

// FrameLength is the size in bytes of one chiller telemetry frame.
const FrameLength = 54

// Kind is the primitive wire type of a frame field.
type Kind uint8

const (
	Float32 Kind = iota + 1
	Int8
	Int16
	Int32
	Bool8 // Int8 on the wire, decoded as raw > 0
)

// Width returns the number of bytes the kind occupies on the wire.
func (k Kind) Width() uint8 {
	switch k {
	case Float32, Int32:
		return 4
	case Int16:
		return 2
	case Int8, Bool8:
		return 1
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Bool8:
		return "bool8"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field describes one value packed into a frame.
type Field struct {
	Path  string // dot-addressed, e.g. "chassis.fans.pwm"
	Kind  Kind
	Width uint8
}

// F is a shorthand for a field whose width is implied by its kind.
func F(path string, kind Kind) Field {
	return Field{Path: path, Kind: kind, Width: kind.Width()}
}

// Schema is an ordered, read-only list of fields. Field order is wire order.
type Schema struct {
	fields  []Field
	offsets map[string]int
	total   int
}

// NewSchema builds a schema from fields in wire order.
func NewSchema(fields ...Field) (*Schema, error) {
	return build(0, fields)
}

// NewFixedSchema builds a schema that must fit into exactly length bytes.
func NewFixedSchema(length int, fields ...Field) (*Schema, error) {
	if length <= 0 {
		return nil, fmt.Errorf("frame: invalid fixed length %d", length)
	}
	s, err := build(length, fields)
	if err != nil {
		return nil, err
	}
	if s.total != length {
		return nil, fmt.Errorf("frame: schema covers %d of %d bytes", s.total, length)
	}
	return s, nil
}

func build(limit int, fields []Field) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("frame: schema has no fields")
	}

	s := &Schema{
		fields:  make([]Field, len(fields)),
		offsets: make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	for _, f := range s.fields {
		if f.Path == "" {
			return nil, fmt.Errorf("frame: field at offset %d has no path", s.total)
		}
		if _, dup := s.offsets[f.Path]; dup {
			return nil, fmt.Errorf("frame: duplicate field %q", f.Path)
		}
		if f.Width == 0 || f.Width != f.Kind.Width() {
			return nil, fmt.Errorf("frame: field %q: width %d does not match %s", f.Path, f.Width, f.Kind)
		}
		if limit > 0 && s.total+int(f.Width) > limit {
			return nil, fmt.Errorf("frame: field %q ends at byte %d, beyond frame length %d", f.Path, s.total+int(f.Width), limit)
		}
		s.offsets[f.Path] = s.total
		s.total += int(f.Width)
	}

	return s, nil
}

// Fields returns a copy of the field list.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// TotalLength is the number of bytes a frame must carry for this schema.
func (s *Schema) TotalLength() int {
	return s.total
}

// Offset returns the byte offset of the field at path.
func (s *Schema) Offset(path string) (int, bool) {
	off, ok := s.offsets[path]
	return off, ok
}

// Chiller is the controller's telemetry layout. Order and widths must match
// the firmware's packed struct; reordering breaks the wire format.
var Chiller = mustSchema(NewFixedSchema(FrameLength,
	F("reservoir.temperature", Float32),
	F("reservoir.setpoint", Float32),
	F("reservoir.level_sense", Float32),
	F("reservoir.level_ref", Float32),
	F("chassis.inside_temperature", Float32),
	F("chassis.outside_temperature", Float32),
	F("chassis.humidity", Float32),
	F("chassis.filter_dp", Int16),
	F("chassis.fans.top_tach", Float32),
	F("chassis.fans.bottom_tach", Float32),
	F("chassis.fans.pwm", Int8),
	F("compressor.running", Bool8),
	F("compressor.valve", Bool8),
	F("compressor.compressor_time", Int32),
	F("compressor.valve_time", Int32),
	F("pump.running", Bool8),
	F("pump.flow_ok", Bool8),
	F("error.alert", Bool8),
	F("error.code", Int16),
))

func mustSchema(s *Schema, err error) *Schema {
	if err != nil {
		panic(err)
	}
	return s
}
