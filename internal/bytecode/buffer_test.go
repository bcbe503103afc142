// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"encoding/binary"
	"testing"
)

func TestInternConstantDeduplicates(t *testing.T) {
	b := New()
	i1 := b.InternConstant(42)
	i2 := b.InternConstant(7)
	i3 := b.InternConstant(42)
	if i1 != i3 {
		t.Fatalf("expected deduplication, got %d != %d", i1, i3)
	}
	if i1 == i2 {
		t.Fatalf("distinct constants must get distinct indices")
	}
	if len(b.Constants) != 2 {
		t.Fatalf("Constants len = %d, want 2", len(b.Constants))
	}
}

func TestInternStringRoundTrip(t *testing.T) {
	b := New()
	off, length := b.InternString("hello")
	off2, length2 := b.InternString("world")
	if got := b.String(off, length); got != "hello" {
		t.Fatalf("String(hello) = %q", got)
	}
	if got := b.String(off2, length2); got != "world" {
		t.Fatalf("String(world) = %q", got)
	}
}

func TestReserveJumpAndPatchLabels(t *testing.T) {
	b := New()
	b.ReserveJump(OpJump, 0, "end")
	b.Emit4(OpTrue, 0, 0, 0)
	b.Label("end")
	b.Emit4(OpRet0, 0, 0, 0)

	if err := b.PatchLabels(); err != nil {
		t.Fatal(err)
	}
	target := binary.LittleEndian.Uint16(b.Code[2:4])
	if target != uint16(8/4) {
		t.Fatalf("patched jump target = %d, want %d", target, 8/4)
	}
}

func TestPatchLabelsUndefined(t *testing.T) {
	b := New()
	b.ReserveJump(OpJump, 0, "nowhere")
	if err := b.PatchLabels(); err == nil {
		t.Fatal("expected an error for an undefined label")
	}
}

func TestPatchJumpToCurPc(t *testing.T) {
	b := New()
	offset := b.Pos()
	b.EmitImm(OpJumpCond, 1, 0)
	b.Emit4(OpTrue, 0, 0, 0)
	b.PatchJumpToCurPc(offset)
	target := binary.LittleEndian.Uint16(b.Code[offset+2 : offset+4])
	if target != uint16(8/4) {
		t.Fatalf("target = %d, want 2", target)
	}
}

func TestDebugSymbolCompressionRoundTrip(t *testing.T) {
	b := New()
	b.Emit4(OpTrue, 0, 0, 0)
	b.RecordDebug(11)
	b.Emit4(OpRet0, 0, 0, 0)
	b.RecordDebug(22)

	compressed := b.CompressDebugSymbols()
	decoded, err := DecompressDebugSymbols(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].SourceNode != 11 || decoded[1].SourceNode != 22 {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestImageMarshalRoundTrip(t *testing.T) {
	b := New()
	b.InternConstant(99)
	b.Emit4(OpTrue, 0, 0, 0)
	b.AddFunc(FuncMeta{Name: "main", Offset: 0, StackSize: 4, Arity: 0})

	img := b.ToImage(0)
	data, err := img.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Constants) != 1 || got.Constants[0] != 99 {
		t.Fatalf("roundtrip constants = %v", got.Constants)
	}
	if len(got.Funcs) != 1 || got.Funcs[0].Name != "main" {
		t.Fatalf("roundtrip funcs = %v", got.Funcs)
	}
	syms, err := got.DebugSymbols()
	if err != nil {
		t.Fatal(err)
	}
	if syms != nil {
		t.Fatalf("expected no debug symbols, got %v", syms)
	}
}
