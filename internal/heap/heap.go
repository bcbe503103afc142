// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package heap implements Cyber's reference-counted heap: object headers,
// allocation, and the retain/release discipline component A of the
// execution core is responsible for.
//
// Unlike the teacher's probe-lang/lang/vm/memory.go — a flat byte arena
// addressed by synthetic base addresses — heap objects here are ordinary Go
// values reached through a handle table, since Go's own garbage collector
// already manages the backing memory. This package's job is strictly the
// refcount bookkeeping and type-directed recursive release the spec
// requires, generalized from memory.go's allocation/bounds-check idiom
// (ErrOutOfMemory / ErrDoubleFree sentinels, a monotone address generator)
// to a handle table keyed by value.Handle.
package heap

import (
	"errors"
	"fmt"

	"github.com/probechain/cyber-lang/internal/value"
)

// ErrOutOfMemory is returned when allocation would exceed the configured
// byte ceiling.
var ErrOutOfMemory = errors.New("heap: out of memory")

// ErrDoubleRelease is returned by Release when a handle's refcount is
// already zero — a checked invariant violation (spec §4.A: "Releasing a
// detached object is a checked invariant violation in trace builds").
var ErrDoubleRelease = errors.New("heap: release of a detached object")

// ErrInvalidHandle is returned when a handle does not name a live object.
var ErrInvalidHandle = errors.New("heap: invalid handle")

// Kind identifies which heap object layout a handle's body holds.
type Kind uint8

const (
	KindList Kind = iota
	KindMap
	KindStringASCII
	KindStringUTF8
	KindStringRaw
	KindClosure
	KindFiber
	KindOpaquePointer
	KindTCCState
	KindBoundFunction
	KindObject
)

// body is implemented by every heap object's payload. releaseChildren is
// called exactly once, when the object's own refcount reaches zero, and
// must release (not merely forget) every Value the body owns.
type body interface {
	kind() Kind
	releaseChildren(h *Heap)
	approxSize() uint64
}

// object is a heap object: the {type-id, refcount} header from §3 plus its
// body.
type object struct {
	typeID   uint32
	refCount uint32
	b        body
}

// Heap owns every live heap object for one VM instance. The zero value is
// not usable; use New.
type Heap struct {
	objects map[value.Handle]*object
	next    value.Handle // handle 0 is permanently reserved, see internal/value
	used    uint64        // approximate live bytes, for the byte ceiling
	limit   uint64
}

// DefaultByteLimit bounds heap growth absent an explicit configuration
// (internal/config); chosen generously since Cyber programs are expected to
// be short-lived scripts, not long-running services.
const DefaultByteLimit = 64 * 1024 * 1024

// New creates an empty heap with the given byte ceiling (0 selects
// DefaultByteLimit).
func New(byteLimit uint64) *Heap {
	if byteLimit == 0 {
		byteLimit = DefaultByteLimit
	}
	return &Heap{
		objects: make(map[value.Handle]*object),
		next:    1,
		limit:   byteLimit,
	}
}

// allocObject reserves a new handle for b, sets its refcount to 1, and
// returns the tagged pointer Value referencing it.
func (h *Heap) allocObject(typeID uint32, b body) (value.Value, error) {
	size := b.approxSize()
	if h.used+size > h.limit {
		return 0, ErrOutOfMemory
	}
	handle := h.next
	h.next++
	h.objects[handle] = &object{typeID: typeID, refCount: 1, b: b}
	h.used += size
	return value.Pointer(handle), nil
}

// lookup resolves a handle to its object, or reports ErrInvalidHandle.
func (h *Heap) lookup(handle value.Handle) (*object, error) {
	obj, ok := h.objects[handle]
	if !ok {
		return nil, fmt.Errorf("%w: handle %d", ErrInvalidHandle, handle)
	}
	return obj, nil
}

// TypeID returns the heap type id recorded in v's object header. The caller
// must have checked v.IsHeapPointer().
func (h *Heap) TypeID(v value.Value) (uint32, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	return obj.typeID, nil
}

// RefCount returns the current reference count of v's heap object — mostly
// useful for tests asserting the §8 refcount-balance invariant.
func (h *Heap) RefCount(v value.Value) (uint32, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	return obj.refCount, nil
}

// Live returns the number of currently-live heap objects.
func (h *Heap) Live() int { return len(h.objects) }

// Retain increments v's refcount. Non-heap tagged values are a no-op,
// matching §4.A: "Non-heap tagged values short-circuit both operations."
func (h *Heap) Retain(v value.Value) {
	h.RetainInc(v, 1)
}

// RetainInc increments v's refcount by n in one step; Retain calls it with
// n == 1.
func (h *Heap) RetainInc(v value.Value, n uint32) {
	if !v.IsHeapPointer() || n == 0 {
		return
	}
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return // already released; retaining a dangling handle is a no-op here, caller's bug
	}
	obj.refCount += n
}

// Release decrements v's refcount. On reaching zero it recursively releases
// every Value the object owns, then frees the handle. Non-heap values are a
// no-op. Releasing an already-detached handle reports ErrDoubleRelease;
// internal/vm's OpRelease and OpReleaseN return that error, while its
// copy-and-release opcodes discard it.
func (h *Heap) Release(v value.Value) error {
	if !v.IsHeapPointer() {
		return nil
	}
	handle := v.AsHandle()
	obj, ok := h.objects[handle]
	if !ok {
		return fmt.Errorf("%w: handle %d", ErrDoubleRelease, handle)
	}
	obj.refCount--
	if obj.refCount > 0 {
		return nil
	}
	obj.b.releaseChildren(h)
	h.used -= obj.b.approxSize()
	delete(h.objects, handle)
	return nil
}

// Equal implements §4.A's equality rule: tagged-identity for primitives,
// structural equality for strings, identity for every other heap object.
func Equal(h *Heap, a, b value.Value) bool {
	if value.IdenticalBits(a, b) {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if !a.IsHeapPointer() || !b.IsHeapPointer() {
		return false
	}
	objA, errA := h.lookup(a.AsHandle())
	objB, errB := h.lookup(b.AsHandle())
	if errA != nil || errB != nil {
		return false
	}
	if objA == objB {
		return true
	}
	sa, aIsStr := objA.b.(stringLike)
	sb, bIsStr := objB.b.(stringLike)
	if aIsStr && bIsStr {
		return sa.bytes() == sb.bytes()
	}
	return false
}

// stringLike is implemented by the three string body layouts so Equal can
// compare them structurally regardless of ASCII/UTF-8/raw encoding.
type stringLike interface {
	bytes() string
}
