// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	mapset "github.com/deckarep/golang-set"

	"github.com/probechain/cyber-lang/internal/value"
)

// liveHandles snapshots the set of currently-live handles in h, for
// before/after leak comparisons in tests that allocate and then release a
// structure and expect the heap to return to its prior population exactly.
func liveHandles(h *Heap) mapset.Set {
	s := mapset.NewThreadUnsafeSet()
	for handle := range h.objects {
		s.Add(handle)
	}
	return s
}

// assertNoLeak fails the test if any handle live now was not already live
// in the before snapshot.
func assertNoLeak(t *testing.T, h *Heap, before mapset.Set) {
	t.Helper()
	after := liveHandles(h)
	if leaked := after.Difference(before); leaked.Cardinality() > 0 {
		objs := make(map[value.Handle]*object, leaked.Cardinality())
		for _, v := range leaked.ToSlice() {
			handle := v.(value.Handle)
			objs[handle] = h.objects[handle]
		}
		t.Fatalf("leaked handles:\n%s", spew.Sdump(objs))
	}
}

func TestListRetainReleaseRoundTrip(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	inner, err := h.NewASCIIString("hi")
	if err != nil {
		t.Fatal(err)
	}
	list, err := h.NewList(TypeIDList, []value.Value{inner, value.Int(5)})
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := h.ListLen(list); n != 2 {
		t.Fatalf("ListLen = %d, want 2", n)
	}
	got, err := h.ListGet(list, 0)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := h.StringBytes(got); s != "hi" {
		t.Fatalf("ListGet(0) = %q, want hi", s)
	}

	if err := h.Release(list); err != nil {
		t.Fatal(err)
	}
	// inner was owned by the list; releasing the list must have released it
	// too since its refcount was 1.
	if h.Live() != 0 {
		t.Fatalf("Live() = %d, want 0 after releasing the whole list", h.Live())
	}
	assertNoLeak(t, h, before)
}

func TestListOutOfBounds(t *testing.T) {
	h := New(0)
	list, err := h.NewList(TypeIDList, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.ListGet(list, 0); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestMapSetGetOverwrite(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	m, err := h.NewMap(TypeIDMap)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.MapSet(m, value.Int(1), value.Int(100)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := h.MapGet(m, value.Int(1))
	if err != nil || !ok {
		t.Fatalf("MapGet = %v, %v, %v", got, ok, err)
	}
	if got.AsInt() != 100 {
		t.Fatalf("MapGet value = %d, want 100", got.AsInt())
	}

	// overwrite
	if err := h.MapSet(m, value.Int(1), value.Int(200)); err != nil {
		t.Fatal(err)
	}
	got, _, _ = h.MapGet(m, value.Int(1))
	if got.AsInt() != 200 {
		t.Fatalf("MapGet after overwrite = %d, want 200", got.AsInt())
	}
	if n, _ := h.MapLen(m); n != 1 {
		t.Fatalf("MapLen = %d, want 1", n)
	}

	if err := h.Release(m); err != nil {
		t.Fatal(err)
	}
	assertNoLeak(t, h, before)
}

func TestMapStringKeyEquality(t *testing.T) {
	h := New(0)
	m, err := h.NewMap(TypeIDMap)
	if err != nil {
		t.Fatal(err)
	}
	k1, _ := h.NewASCIIString("hello")
	if err := h.MapSet(m, k1, value.Int(1)); err != nil {
		t.Fatal(err)
	}
	// a distinct string object with identical bytes must hash-equal the
	// first key (§4.A structural string equality).
	k2, _ := h.NewASCIIString("hello")
	h.Retain(k2)
	got, ok, err := h.MapGet(m, k2)
	if err != nil || !ok {
		t.Fatalf("expected structural match, got %v, %v, %v", got, ok, err)
	}
	if got.AsInt() != 1 {
		t.Fatalf("MapGet via structural key = %d, want 1", got.AsInt())
	}
	h.Release(k2)
}

func TestClosureUpvalues(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	s, err := h.NewASCIIString("captured")
	if err != nil {
		t.Fatal(err)
	}
	cl, err := h.NewClosure(TypeIDClosure, 42, []value.Value{s})
	if err != nil {
		t.Fatal(err)
	}
	pc, err := h.ClosureFuncPC(cl)
	if err != nil || pc != 42 {
		t.Fatalf("ClosureFuncPC = %d, %v", pc, err)
	}
	up, err := h.ClosureUpvalue(cl, 0)
	if err != nil {
		t.Fatal(err)
	}
	if bs, _ := h.StringBytes(up); bs != "captured" {
		t.Fatalf("upvalue = %q", bs)
	}

	if err := h.Release(cl); err != nil {
		t.Fatal(err)
	}
	assertNoLeak(t, h, before)
}

func TestFiberLifecycle(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	f, err := h.NewFiber(TypeIDFiber, 8)
	if err != nil {
		t.Fatal(err)
	}
	if status, _ := h.FiberStatus(f); status != FiberNew {
		t.Fatalf("initial status = %v, want FiberNew", status)
	}
	if err := h.SetFiberStatus(f, FiberSuspended); err != nil {
		t.Fatal(err)
	}
	if err := h.SetFiberPC(f, 7); err != nil {
		t.Fatal(err)
	}
	if pc, _ := h.FiberPC(f); pc != 7 {
		t.Fatalf("FiberPC = %d, want 7", pc)
	}
	regs, err := h.FiberRegisters(f)
	if err != nil || len(regs) != 8 {
		t.Fatalf("FiberRegisters = %v, %v", regs, err)
	}

	if err := h.Release(f); err != nil {
		t.Fatal(err)
	}
	assertNoLeak(t, h, before)
}

func TestTCCStateUnmapsOnLastRelease(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	unmapped := false
	tcc, err := h.NewTCCState([]byte{1, 2, 3}, func([]byte) error {
		unmapped = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	bound, err := h.NewBoundFunction(0xdead, 1, tcc)
	if err != nil {
		t.Fatal(err)
	}
	// bound function owns the tcc state reference; releasing bound must
	// release tcc and trigger the unmap.
	if err := h.Release(bound); err != nil {
		t.Fatal(err)
	}
	if !unmapped {
		t.Fatal("expected tcc arena to be unmapped once its last bound function was released")
	}
	assertNoLeak(t, h, before)
}

func TestObjectFieldMutation(t *testing.T) {
	h := New(0)
	before := liveHandles(h)

	obj, err := h.NewObject(FirstUserTypeID, []value.Value{value.Int(1), value.Int(2)})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := h.ObjectField(obj, 1); v.AsInt() != 2 {
		t.Fatalf("field 1 = %d, want 2", v.AsInt())
	}
	if err := h.SetObjectField(obj, 1, value.Int(99)); err != nil {
		t.Fatal(err)
	}
	if v, _ := h.ObjectField(obj, 1); v.AsInt() != 99 {
		t.Fatalf("field 1 after set = %d, want 99", v.AsInt())
	}

	if err := h.Release(obj); err != nil {
		t.Fatal(err)
	}
	assertNoLeak(t, h, before)
}

func TestDoubleReleaseIsReported(t *testing.T) {
	h := New(0)
	s, err := h.NewASCIIString("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(s); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(s); err == nil {
		t.Fatal("expected ErrDoubleRelease on second release")
	}
}

func TestOutOfMemory(t *testing.T) {
	h := New(16)
	if _, err := h.NewASCIIString("this string is far larger than the byte ceiling"); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
}

func TestEqualStructuralVsIdentity(t *testing.T) {
	h := New(0)
	a, _ := h.NewASCIIString("same")
	b, _ := h.NewASCIIString("same")
	if !Equal(h, a, b) {
		t.Fatal("expected structural equality between distinct string objects with equal bytes")
	}
	obj1, _ := h.NewObject(FirstUserTypeID, nil)
	obj2, _ := h.NewObject(FirstUserTypeID, nil)
	if Equal(h, obj1, obj2) {
		t.Fatal("expected identity semantics for non-string heap objects")
	}
	if !Equal(h, obj1, obj1) {
		t.Fatal("an object must equal itself")
	}
}
