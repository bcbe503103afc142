// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ffi

import (
	"errors"
	"testing"

	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

func TestBindMissingSymbol(t *testing.T) {
	b := NewBinder(heap.New(0))
	img := StaticImage{}
	_, err := b.Bind(img, []FuncDesc{{Symbol: "abs", Params: []DescType{DescInt}, Return: DescInt}})
	if !errors.Is(err, ErrMissingSymbol) {
		t.Fatalf("expected ErrMissingSymbol, got %v", err)
	}
}

func TestBindUnknownDescType(t *testing.T) {
	b := NewBinder(heap.New(0))
	img := StaticImage{"f": 1}
	_, err := b.Bind(img, []FuncDesc{{Symbol: "f", Params: []DescType{DescType(200)}, Return: DescVoid}})
	if !errors.Is(err, ErrUnknownDescType) {
		t.Fatalf("expected ErrUnknownDescType, got %v", err)
	}
}

func TestBindTooManyParams(t *testing.T) {
	b := NewBinder(heap.New(0))
	img := StaticImage{"f": 1}
	params := make([]DescType, maxTrampolineArgs+1)
	for i := range params {
		params[i] = DescInt
	}
	_, err := b.Bind(img, []FuncDesc{{Symbol: "f", Params: params, Return: DescVoid}})
	if !errors.Is(err, ErrCompileFailed) {
		t.Fatalf("expected ErrCompileFailed, got %v", err)
	}
}

func TestBindProducesBoundFunctionMap(t *testing.T) {
	h := heap.New(0)
	b := NewBinder(h)
	img := StaticImage{"abs": 0xdeadbeef}
	m, err := b.Bind(img, []FuncDesc{{Symbol: "abs", Params: []DescType{DescInt}, Return: DescInt}})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer h.Release(m)

	n, err := h.MapLen(m)
	if err != nil || n != 1 {
		t.Fatalf("MapLen: %d, %v", n, err)
	}
	nameVal, err := h.NewASCIIString("abs")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(nameVal)
	fnVal, ok, err := h.MapGet(m, nameVal)
	if err != nil || !ok {
		t.Fatalf("MapGet: ok=%v err=%v", ok, err)
	}
	typeID, err := h.TypeID(fnVal)
	if err != nil {
		t.Fatal(err)
	}
	if typeID != heap.TypeIDBoundFunction {
		t.Fatalf("expected TypeIDBoundFunction, got %d", typeID)
	}

	rc, err := h.RefCount(m)
	if err != nil || rc != 1 {
		t.Fatalf("map refcount = %d, %v", rc, err)
	}
}

func TestMarshalArgBoolBranchesOnTagClass(t *testing.T) {
	b := NewBinder(heap.New(0))
	bits, _, err := b.marshalArg(DescBool, value.True)
	if err != nil || bits != 1 {
		t.Fatalf("True: bits=%d err=%v", bits, err)
	}
	bits, _, err = b.marshalArg(DescBool, value.False)
	if err != nil || bits != 0 {
		t.Fatalf("False: bits=%d err=%v", bits, err)
	}
	if _, _, err := b.marshalArg(DescBool, value.Int(1)); err == nil {
		t.Fatal("expected type error passing an int where bool is required")
	}
}

func TestMarshalUnmarshalIntRoundTrip(t *testing.T) {
	b := NewBinder(heap.New(0))
	bits, _, err := b.marshalArg(DescInt, value.Int(-5))
	if err != nil {
		t.Fatal(err)
	}
	result, err := b.unmarshalResult(DescInt, bits)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind() != value.KindInteger || result.AsInt() != -5 {
		t.Fatalf("got %v", result)
	}
}

func TestMarshalUnmarshalFloatRoundTrip(t *testing.T) {
	b := NewBinder(heap.New(0))
	bits, _, err := b.marshalArg(DescF64, value.Float(3.5))
	if err != nil {
		t.Fatal(err)
	}
	result, err := b.unmarshalResult(DescF64, bits)
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind() != value.KindFloat || result.AsFloat() != 3.5 {
		t.Fatalf("got %v", result)
	}
}

func TestMarshalCharPtrZBorrowedForCallDuration(t *testing.T) {
	h := heap.New(0)
	b := NewBinder(h)
	sv, err := h.NewRawString([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(sv)

	bits, toFree, err := b.marshalArg(DescCharPtrZ, sv)
	if err != nil {
		t.Fatal(err)
	}
	if bits == 0 || toFree == 0 {
		t.Fatal("expected a non-nil pinned C string")
	}
	got := readCString(uintptr(bits))
	if got != "hello" {
		t.Fatalf("readCString: %q", got)
	}
	freeCString(toFree)
}

func TestUnmarshalVoidReturnsNone(t *testing.T) {
	b := NewBinder(heap.New(0))
	result, err := b.unmarshalResult(DescVoid, 0xFFFFFFFF)
	if err != nil {
		t.Fatal(err)
	}
	if result != value.None {
		t.Fatalf("expected None, got %v", result)
	}
}

func TestUnmarshalPtrWrapsOpaquePointer(t *testing.T) {
	h := heap.New(0)
	b := NewBinder(h)
	result, err := b.unmarshalResult(DescPtr, 0x1234)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(result)
	ptr, err := h.OpaquePointer(result)
	if err != nil {
		t.Fatal(err)
	}
	if ptr != 0x1234 {
		t.Fatalf("got %#x", ptr)
	}
}
