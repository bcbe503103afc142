// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package value

import (
	"math"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want Kind
	}{
		{"float zero", Float(0), KindFloat},
		{"float pi", Float(math.Pi), KindFloat},
		{"negative float", Float(-12.5), KindFloat},
		{"pointer", Pointer(42), KindPointer},
		{"bool true", True, KindBool},
		{"bool false", False, KindBool},
		{"none", None, KindNone},
		{"error", Error(7), KindError},
		{"symbol", Symbol(3), KindSymbol},
		{"integer", Int(-5), KindInteger},
		{"enum", Enum(1, 2), KindEnum},
		{"static string", StaticString(10, 20), KindStaticString},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.Kind(); got != c.want {
				t.Errorf("Kind() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestIntRoundTripAndWrap(t *testing.T) {
	cases := []int64{0, 1, -1, 1000, -1000, intSignBit - 1, -intSignBit}
	for _, n := range cases {
		v := Int(n)
		if v.Kind() != KindInteger {
			t.Fatalf("Int(%d) kind = %v", n, v.Kind())
		}
		if got := v.AsInt(); got != n {
			t.Errorf("Int(%d).AsInt() = %d", n, got)
		}
	}

	// Values outside the 48-bit range must wrap, not panic or saturate.
	wrapped := Int(intSignBit).AsInt()
	if wrapped != -intSignBit {
		t.Errorf("Int(2^47) wrapped = %d, want %d", wrapped, -intSignBit)
	}
}

func TestBoolRoundTrip(t *testing.T) {
	if !Bool(true).AsBool() {
		t.Error("Bool(true).AsBool() = false")
	}
	if Bool(false).AsBool() {
		t.Error("Bool(false).AsBool() = true")
	}
	if True == False {
		t.Error("True and False must not share a bit pattern")
	}
}

func TestPointerRoundTrip(t *testing.T) {
	v := Pointer(0xABCDEF)
	if !v.IsHeapPointer() {
		t.Fatal("expected IsHeapPointer")
	}
	if v.AsHandle() != 0xABCDEF {
		t.Errorf("AsHandle() = %x", v.AsHandle())
	}
}

func TestCanonicalizeNaNIsDisjointFromPointers(t *testing.T) {
	nan := Float(math.NaN())
	if nan.Kind() != KindFloat {
		t.Fatalf("canonicalized NaN kind = %v, want float", nan.Kind())
	}
	// The reserved pattern must not be reachable as a live pointer: handle 0
	// is never a valid heap pointer.
	if Value(nan).Kind() == KindPointer {
		t.Fatal("reserved NaN pattern must decode as float, not pointer")
	}
	if Pointer(0).IsHeapPointer() {
		t.Fatal("handle 0 must never report as a live heap pointer")
	}
}

func TestEnumRoundTrip(t *testing.T) {
	v := Enum(12, 99999)
	typeID, member := v.AsEnum()
	if typeID != 12 || member != 99999 {
		t.Errorf("AsEnum() = (%d, %d)", typeID, member)
	}
}

func TestStaticStringRoundTrip(t *testing.T) {
	v := StaticString(123456, 7890)
	off, length := v.AsStaticString()
	if off != 123456 || length != 7890 {
		t.Errorf("AsStaticString() = (%d, %d)", off, length)
	}
}

func TestIdenticalBitsPrimitiveEquality(t *testing.T) {
	if !IdenticalBits(Int(5), Int(5)) {
		t.Error("Int(5) should be bit-identical to Int(5)")
	}
	if IdenticalBits(Int(5), Int(6)) {
		t.Error("Int(5) must differ from Int(6)")
	}
}

// TestFuzzIntWrapsTo48Bits sweeps a large population of random int64
// inputs through Int/AsInt and checks the result always matches the
// explicit 48-bit two's-complement wraparound WrapInt48 documents, rather
// than just spot-checking the handful of boundary values the table-driven
// cases above cover.
func TestFuzzIntWrapsTo48Bits(t *testing.T) {
	f := fuzz.New().NilChance(0)
	var n int64
	for i := 0; i < 2000; i++ {
		f.Fuzz(&n)
		got := Int(n).AsInt()
		want := WrapInt48(n)
		if got != want {
			t.Fatalf("Int(%d).AsInt() = %d, want %d (wrapped)", n, got, want)
		}
		if got >= 1<<47 || got < -(1<<47) {
			t.Fatalf("Int(%d).AsInt() = %d out of 48-bit range", n, got)
		}
	}
}

// TestFuzzFloatRoundTripsModuloNaN sweeps random float64 values through
// Float/AsFloat. NaN payloads are excluded because Float
// deliberately collapses every NaN bit pattern to one canonical box (§3's
// disjointness guarantee) rather than preserving the original payload.
func TestFuzzFloatRoundTripsModuloNaN(t *testing.T) {
	f := fuzz.New().NilChance(0)
	var bits uint64
	for i := 0; i < 2000; i++ {
		f.Fuzz(&bits)
		in := math.Float64frombits(bits)
		if math.IsNaN(in) {
			continue
		}
		out := Float(in).AsFloat()
		if in != out && !(in == 0 && out == 0) {
			t.Fatalf("Float(%v).AsFloat() = %v", in, out)
		}
	}
}
