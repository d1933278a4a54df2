// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package codec packs and unpacks f32/f64/u16/u32/u64/i32/i64 scalars
// to and from a stream of 16-bit Modbus registers under a selectable
// word order.
//
// A scalar is first bit-cast to an unsigned integer of the same width
// (IEEE-754 for floats, two's complement for signed integers), then
// split into 16-bit lanes least-significant lane first. The word order
// only decides which lane goes on the wire first; it never changes the
// bit pattern of a lane.
package codec

import (
	"fmt"
	"math"
	"strconv"
)

// DataType tags the scalar kind a register cell carries.
type DataType int

const (
	Float32 DataType = iota
	Float64
	Uint16
	Uint32
	Uint64
	Int32
	Int64
)

var dataTypeNames = map[DataType]string{
	Float32: "float32",
	Float64: "float64",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int32:   "int32",
	Int64:   "int64",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// ParseDataType resolves a config string into a DataType.
func ParseDataType(s string) (DataType, error) {
	for dt, name := range dataTypeNames {
		if name == s {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("codec: unknown data type %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (d DataType) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *DataType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dt, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*d = dt
	return nil
}

// WordWidth returns how many 16-bit registers the data type occupies.
func (d DataType) WordWidth() int {
	switch d {
	case Uint16:
		return 1
	case Float32, Uint32, Int32:
		return 2
	case Float64, Uint64, Int64:
		return 4
	default:
		return 0
	}
}

// Endianness selects the word order of a multi-word scalar on the
// register stream. It is unrelated to the byte order within a single
// 16-bit word, which is always big-endian on the wire.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// MarshalYAML implements yaml.Marshaler.
func (e Endianness) MarshalYAML() (interface{}, error) {
	return e.String(), nil
}

// ParseEndianness resolves a config string into an Endianness.
func ParseEndianness(s string) (Endianness, error) {
	switch s {
	case "little_endian", "little", "le":
		return LittleEndian, nil
	case "big_endian", "big", "be":
		return BigEndian, nil
	default:
		return 0, fmt.Errorf("codec: unknown endianness %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Endianness) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseEndianness(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// splitLanes breaks u into `words` 16-bit lanes, least-significant first.
func splitLanes(u uint64, words int) []uint16 {
	lanes := make([]uint16, words)
	for i := 0; i < words; i++ {
		lanes[i] = uint16(u >> (16 * uint(i)))
	}
	return lanes
}

// joinLanes is the inverse of splitLanes.
func joinLanes(lanes []uint16) uint64 {
	var u uint64
	for i, lane := range lanes {
		u |= uint64(lane) << (16 * uint(i))
	}
	return u
}

// order arranges lane-order words (lane[0] = LSW) into wire order for
// the given endianness, or the reverse; the operation is its own
// inverse since it is either identity (LittleEndian) or a full
// reversal (BigEndian).
func order(lanes []uint16, e Endianness) []uint16 {
	if e == LittleEndian {
		return lanes
	}
	out := make([]uint16, len(lanes))
	for i, lane := range lanes {
		out[len(lanes)-1-i] = lane
	}
	return out
}

// EncodeUint16 encodes a Uint16 scalar. Endianness is irrelevant: it is
// always a single word.
func EncodeUint16(v uint16) []uint16 {
	return []uint16{v}
}

// DecodeUint16 decodes a Uint16 scalar from a single word.
func DecodeUint16(words []uint16) uint16 {
	return words[0]
}

// EncodeUint32 encodes a Uint32 scalar into 2 words.
func EncodeUint32(v uint32, e Endianness) []uint16 {
	return order(splitLanes(uint64(v), 2), e)
}

// DecodeUint32 decodes a Uint32 scalar from 2 words.
func DecodeUint32(words []uint16, e Endianness) uint32 {
	return uint32(joinLanes(order(words, e)))
}

// EncodeInt32 encodes an Int32 scalar into 2 words.
func EncodeInt32(v int32, e Endianness) []uint16 {
	return order(splitLanes(uint64(uint32(v)), 2), e)
}

// DecodeInt32 decodes an Int32 scalar from 2 words.
func DecodeInt32(words []uint16, e Endianness) int32 {
	return int32(uint32(joinLanes(order(words, e))))
}

// EncodeFloat32 encodes a Float32 scalar into 2 words.
func EncodeFloat32(v float32, e Endianness) []uint16 {
	return order(splitLanes(uint64(math.Float32bits(v)), 2), e)
}

// DecodeFloat32 decodes a Float32 scalar from 2 words.
func DecodeFloat32(words []uint16, e Endianness) float32 {
	return math.Float32frombits(uint32(joinLanes(order(words, e))))
}

// EncodeUint64 encodes a Uint64 scalar into 4 words.
func EncodeUint64(v uint64, e Endianness) []uint16 {
	return order(splitLanes(v, 4), e)
}

// DecodeUint64 decodes a Uint64 scalar from 4 words.
func DecodeUint64(words []uint16, e Endianness) uint64 {
	return joinLanes(order(words, e))
}

// EncodeInt64 encodes an Int64 scalar into 4 words.
func EncodeInt64(v int64, e Endianness) []uint16 {
	return order(splitLanes(uint64(v), 4), e)
}

// DecodeInt64 decodes an Int64 scalar from 4 words.
func DecodeInt64(words []uint16, e Endianness) int64 {
	return int64(joinLanes(order(words, e)))
}

// EncodeFloat64 encodes a Float64 scalar into 4 words.
func EncodeFloat64(v float64, e Endianness) []uint16 {
	return order(splitLanes(math.Float64bits(v), 4), e)
}

// DecodeFloat64 decodes a Float64 scalar from 4 words.
func DecodeFloat64(words []uint16, e Endianness) float64 {
	return math.Float64frombits(joinLanes(order(words, e)))
}

// EncodeValue parses text as dt and encodes it to the register stream.
// This is the bridge used by the register database, where cell values
// are kept as text for configuration convenience (see the data model).
func EncodeValue(dt DataType, text string, e Endianness) ([]uint16, error) {
	switch dt {
	case Float32:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as float32: %w", text, err)
		}
		return EncodeFloat32(float32(v), e), nil
	case Float64:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as float64: %w", text, err)
		}
		return EncodeFloat64(v, e), nil
	case Uint16:
		v, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as uint16: %w", text, err)
		}
		return EncodeUint16(uint16(v)), nil
	case Uint32:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as uint32: %w", text, err)
		}
		return EncodeUint32(uint32(v), e), nil
	case Uint64:
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as uint64: %w", text, err)
		}
		return EncodeUint64(v, e), nil
	case Int32:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as int32: %w", text, err)
		}
		return EncodeInt32(int32(v), e), nil
	case Int64:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("codec: parsing %q as int64: %w", text, err)
		}
		return EncodeInt64(v, e), nil
	default:
		return nil, fmt.Errorf("codec: unsupported data type %v", dt)
	}
}

// DecodeValue decodes words (exactly dt.WordWidth() of them) and
// formats the result back into text.
func DecodeValue(dt DataType, words []uint16, e Endianness) (string, error) {
	if len(words) != dt.WordWidth() {
		return "", fmt.Errorf("codec: %v needs %d words, got %d", dt, dt.WordWidth(), len(words))
	}
	switch dt {
	case Float32:
		return strconv.FormatFloat(float64(DecodeFloat32(words, e)), 'g', -1, 32), nil
	case Float64:
		return strconv.FormatFloat(DecodeFloat64(words, e), 'g', -1, 64), nil
	case Uint16:
		return strconv.FormatUint(uint64(DecodeUint16(words)), 10), nil
	case Uint32:
		return strconv.FormatUint(uint64(DecodeUint32(words, e)), 10), nil
	case Uint64:
		return strconv.FormatUint(DecodeUint64(words, e), 10), nil
	case Int32:
		return strconv.FormatInt(int64(DecodeInt32(words, e)), 10), nil
	case Int64:
		return strconv.FormatInt(DecodeInt64(words, e), 10), nil
	default:
		return "", fmt.Errorf("codec: unsupported data type %v", dt)
	}
}
