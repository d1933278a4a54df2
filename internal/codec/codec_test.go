// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package codec

import (
	"math"
	"testing"
)

func TestEncodeFloat32LittleEndianPi(t *testing.T) {
	words := EncodeFloat32(3.1415, LittleEndian)
	want := []uint16{0x0E56, 0x4049}
	if len(words) != len(want) || words[0] != want[0] || words[1] != want[1] {
		t.Fatalf("got %#04x, want %#04x", words, want)
	}

	got := DecodeFloat32(words, LittleEndian)
	if math.Abs(float64(got-3.1415)) > 1e-6 {
		t.Fatalf("round trip mismatch: got %v", got)
	}
}

func TestEncodeFloat64LittleEndianPi(t *testing.T) {
	words := EncodeFloat64(3.141592653589793, LittleEndian)
	want := []uint16{0x2D18, 0x5444, 0x21FB, 0x4009}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("got %#04x, want %#04x", words, want)
		}
	}
}

func TestRoundTripAllTypesBothEndianness(t *testing.T) {
	endians := []Endianness{LittleEndian, BigEndian}
	for _, e := range endians {
		if got := DecodeFloat32(EncodeFloat32(-1.25, e), e); got != -1.25 {
			t.Errorf("float32 round trip failed under %v: %v", e, got)
		}
		if got := DecodeFloat64(EncodeFloat64(2.5, e), e); got != 2.5 {
			t.Errorf("float64 round trip failed under %v: %v", e, got)
		}
		if got := DecodeUint16(EncodeUint16(0xBEEF)); got != 0xBEEF {
			t.Errorf("uint16 round trip failed: %v", got)
		}
		if got := DecodeUint32(EncodeUint32(0xDEADBEEF, e), e); got != 0xDEADBEEF {
			t.Errorf("uint32 round trip failed under %v: %v", e, got)
		}
		if got := DecodeUint64(EncodeUint64(0x0102030405060708, e), e); got != 0x0102030405060708 {
			t.Errorf("uint64 round trip failed under %v: %v", e, got)
		}
		if got := DecodeInt32(EncodeInt32(-123456, e), e); got != -123456 {
			t.Errorf("int32 round trip failed under %v: %v", e, got)
		}
		if got := DecodeInt64(EncodeInt64(-123456789012, e), e); got != -123456789012 {
			t.Errorf("int64 round trip failed under %v: %v", e, got)
		}
	}
}

func TestWordWidth(t *testing.T) {
	cases := map[DataType]int{
		Uint16:  1,
		Float32: 2,
		Uint32:  2,
		Int32:   2,
		Float64: 4,
		Uint64:  4,
		Int64:   4,
	}
	for dt, want := range cases {
		if got := dt.WordWidth(); got != want {
			t.Errorf("%v: got width %d, want %d", dt, got, want)
		}
	}
}

func TestEncodeDecodeValueStringRoundTrip(t *testing.T) {
	words, err := EncodeValue(Float32, "1.5", LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(words))
	}
	text, err := DecodeValue(Float32, words, LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if text != "1.5" {
		t.Fatalf("got %q, want %q", text, "1.5")
	}
}

func TestEncodeValueUnparseable(t *testing.T) {
	if _, err := EncodeValue(Float32, "not-a-number", LittleEndian); err == nil {
		t.Fatal("expected error for unparseable value")
	}
}

func TestDecodeValueWrongWordCount(t *testing.T) {
	if _, err := DecodeValue(Float32, []uint16{0x0000}, LittleEndian); err == nil {
		t.Fatal("expected error for wrong word count")
	}
}
