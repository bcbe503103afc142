// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package heap

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/probechain/cyber-lang/internal/value"
)

// ---- List -----------------------------------------------------------------

// listBody is the {length, capacity, element pointer} layout from §3.
type listBody struct {
	elems []value.Value
}

func (l *listBody) kind() Kind { return KindList }
func (l *listBody) releaseChildren(h *Heap) {
	for _, e := range l.elems {
		h.Release(e)
	}
}
func (l *listBody) approxSize() uint64 { return uint64(len(l.elems))*8 + 24 }

// NewList allocates a heap list holding a copy of elems and takes ownership
// of its elements without retaining them: the caller must already have
// retained each heap-pointer element it hands over.
func (h *Heap) NewList(typeID uint32, elems []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(elems))
	copy(cp, elems)
	return h.allocObject(typeID, &listBody{elems: cp})
}

// ListLen returns the length of the list at v.
func (h *Heap) ListLen(v value.Value) (int, error) {
	b, err := h.asList(v)
	if err != nil {
		return 0, err
	}
	return len(b.elems), nil
}

// ListGet returns element i of the list at v without retaining it; the
// caller retains if it stores the result somewhere persistent.
func (h *Heap) ListGet(v value.Value, i int) (value.Value, error) {
	b, err := h.asList(v)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= len(b.elems) {
		return 0, newOutOfBoundsError(i, len(b.elems))
	}
	return b.elems[i], nil
}

// ListSet stores elem at index i, releasing whatever value previously lived
// there and taking ownership of elem (the caller must have already retained
// elem for this slot).
func (h *Heap) ListSet(v value.Value, i int, elem value.Value) error {
	b, err := h.asList(v)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(b.elems) {
		return newOutOfBoundsError(i, len(b.elems))
	}
	old := b.elems[i]
	b.elems[i] = elem
	h.Release(old)
	return nil
}

// ListAppend appends elem (already retained by the caller) to the list.
func (h *Heap) ListAppend(v value.Value, elem value.Value) error {
	b, err := h.asList(v)
	if err != nil {
		return err
	}
	b.elems = append(b.elems, elem)
	return nil
}

func (h *Heap) asList(v value.Value) (*listBody, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return nil, err
	}
	b, ok := obj.b.(*listBody)
	if !ok {
		return nil, newTypeMismatchError("list", obj.b.kind())
	}
	return b, nil
}

// ---- Map --------------------------------------------------------------

// mapEntry is one key/value binding in mapBody.entries. Cyber maps hash by
// value-equality (§3); this implementation uses a Go map keyed by the raw
// bits of primitive keys and falls back to linear structural comparison for
// string keys, which is sufficient at the scale scripts operate at and
// avoids re-deriving Go's hash-table internals for a value type that is not
// comparable with ==.
type mapEntry struct {
	key value.Value
	val value.Value
}

type mapBody struct {
	// buckets indexes entries by primitive-key bits for O(1) lookup on the
	// common case; string keys are also probed linearly in strEntries.
	buckets    map[uint64]int
	strEntries []int // indices into entries that are string-keyed
	entries    []mapEntry
}

func (m *mapBody) kind() Kind { return KindMap }
func (m *mapBody) releaseChildren(h *Heap) {
	for _, e := range m.entries {
		h.Release(e.key)
		h.Release(e.val)
	}
}
func (m *mapBody) approxSize() uint64 { return uint64(len(m.entries))*16 + 48 }

// NewMap allocates an empty map.
func (h *Heap) NewMap(typeID uint32) (value.Value, error) {
	return h.allocObject(typeID, &mapBody{buckets: make(map[uint64]int)})
}

func (h *Heap) asMap(v value.Value) (*mapBody, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return nil, err
	}
	b, ok := obj.b.(*mapBody)
	if !ok {
		return nil, newTypeMismatchError("map", obj.b.kind())
	}
	return b, nil
}

// MapGet looks up key by value-equality, returning (value.None, false) if
// absent.
func (h *Heap) MapGet(v, key value.Value) (value.Value, bool, error) {
	b, err := h.asMap(v)
	if err != nil {
		return 0, false, err
	}
	idx, ok := h.mapFind(b, key)
	if !ok {
		return value.None, false, nil
	}
	return b.entries[idx].val, true, nil
}

// MapSet inserts or overwrites key→val, taking ownership of both (the caller
// must have already retained them for this binding). Overwriting releases
// the previous key/val pair.
func (h *Heap) MapSet(v, key, val value.Value) error {
	b, err := h.asMap(v)
	if err != nil {
		return err
	}
	if idx, ok := h.mapFind(b, key); ok {
		old := b.entries[idx]
		b.entries[idx].key = key
		b.entries[idx].val = val
		h.Release(old.key) // key is replaced too, since key equality doesn't imply identical bits for strings
		h.Release(old.val)
		return nil
	}
	idx := len(b.entries)
	b.entries = append(b.entries, mapEntry{key: key, val: val})
	if key.Kind() == value.KindPointer {
		if tid, _ := h.TypeID(key); isStringType(tid) {
			b.strEntries = append(b.strEntries, idx)
			return nil
		}
	}
	b.buckets[key.Bits()] = idx
	return nil
}

// MapLen returns the number of entries in the map at v.
func (h *Heap) MapLen(v value.Value) (int, error) {
	b, err := h.asMap(v)
	if err != nil {
		return 0, err
	}
	return len(b.entries), nil
}

func (h *Heap) mapFind(b *mapBody, key value.Value) (int, bool) {
	if idx, ok := b.buckets[key.Bits()]; ok && Equal(h, b.entries[idx].key, key) {
		return idx, true
	}
	for _, idx := range b.strEntries {
		if Equal(h, b.entries[idx].key, key) {
			return idx, true
		}
	}
	return 0, false
}

func isStringType(typeID uint32) bool {
	return typeID == TypeIDStringASCII || typeID == TypeIDStringUTF8 || typeID == TypeIDStringRaw
}

// ---- Strings ------------------------------------------------------------
//
// Two counted layouts distinguish ASCII from UTF-8 by type-id so indexing
// can skip decoding when it's known safe (§4.A); a third, raw-bytes layout
// never interprets its contents as text.

type stringASCIIBody struct{ s string }

func (b *stringASCIIBody) kind() Kind             { return KindStringASCII }
func (b *stringASCIIBody) releaseChildren(*Heap)  {}
func (b *stringASCIIBody) approxSize() uint64     { return uint64(len(b.s)) + 16 }
func (b *stringASCIIBody) bytes() string          { return b.s }

type stringUTF8Body struct{ s string }

func (b *stringUTF8Body) kind() Kind            { return KindStringUTF8 }
func (b *stringUTF8Body) releaseChildren(*Heap) {}
func (b *stringUTF8Body) approxSize() uint64    { return uint64(len(b.s)) + 16 }
func (b *stringUTF8Body) bytes() string         { return b.s }

type stringRawBody struct{ b []byte }

func (b *stringRawBody) kind() Kind            { return KindStringRaw }
func (b *stringRawBody) releaseChildren(*Heap) {}
func (b *stringRawBody) approxSize() uint64    { return uint64(len(b.b)) + 16 }
func (b *stringRawBody) bytes() string         { return string(b.b) }

// NewString allocates the ASCII layout if s is pure ASCII, otherwise the
// UTF-8 layout — callers that already know the answer (e.g. codegen
// constant folding) may call NewASCIIString/NewUTF8String directly.
func (h *Heap) NewString(s string) (value.Value, error) {
	if isASCII(s) {
		return h.NewASCIIString(s)
	}
	return h.NewUTF8String(s)
}

func (h *Heap) NewASCIIString(s string) (value.Value, error) {
	return h.allocObject(TypeIDStringASCII, &stringASCIIBody{s: s})
}

// NewUTF8String allocates s under the UTF-8 string layout, first putting it
// in Unicode normalization form C so that two strings built from visually
// identical but differently-composed source text (e.g. a precomposed
// accented letter vs. a base letter plus a combining mark) compare equal
// under Equal's structural string comparison.
func (h *Heap) NewUTF8String(s string) (value.Value, error) {
	return h.allocObject(TypeIDStringUTF8, &stringUTF8Body{s: norm.NFC.String(s)})
}

func (h *Heap) NewRawString(b []byte) (value.Value, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	return h.allocObject(TypeIDStringRaw, &stringRawBody{b: cp})
}

// StringBytes returns the underlying bytes of any of the three string
// layouts.
func (h *Heap) StringBytes(v value.Value) (string, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return "", err
	}
	sl, ok := obj.b.(stringLike)
	if !ok {
		return "", newTypeMismatchError("string", obj.b.kind())
	}
	return sl.bytes(), nil
}

// StringLen returns the element count appropriate to the string's layout:
// byte length for ASCII/raw, rune count for UTF-8.
func (h *Heap) StringLen(v value.Value) (int, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	switch b := obj.b.(type) {
	case *stringASCIIBody:
		return len(b.s), nil
	case *stringRawBody:
		return len(b.b), nil
	case *stringUTF8Body:
		return utf8.RuneCountInString(b.s), nil
	default:
		return 0, newTypeMismatchError("string", obj.b.kind())
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// ---- Closure ------------------------------------------------------------

// closureBody is {function pointer, captured upvalues[]} (§3). FuncPC
// addresses the function in the owning bytecode image; Upvalues holds the
// box of each captured local, which internal/vm reads and writes through.
type closureBody struct {
	funcPC   uint32
	upvalues []value.Value
}

func (c *closureBody) kind() Kind { return KindClosure }
func (c *closureBody) releaseChildren(h *Heap) {
	for _, u := range c.upvalues {
		h.Release(u)
	}
}
func (c *closureBody) approxSize() uint64 { return uint64(len(c.upvalues))*8 + 24 }

// NewClosure allocates a closure over the function at funcPC, taking
// ownership of upvalues (already retained by the caller/generator).
func (h *Heap) NewClosure(typeID uint32, funcPC uint32, upvalues []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(upvalues))
	copy(cp, upvalues)
	return h.allocObject(typeID, &closureBody{funcPC: funcPC, upvalues: cp})
}

func (h *Heap) ClosureFuncPC(v value.Value) (uint32, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	b, ok := obj.b.(*closureBody)
	if !ok {
		return 0, newTypeMismatchError("closure", obj.b.kind())
	}
	return b.funcPC, nil
}

func (h *Heap) ClosureUpvalue(v value.Value, idx int) (value.Value, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	b, ok := obj.b.(*closureBody)
	if !ok {
		return 0, newTypeMismatchError("closure", obj.b.kind())
	}
	if idx < 0 || idx >= len(b.upvalues) {
		return 0, newOutOfBoundsError(idx, len(b.upvalues))
	}
	return b.upvalues[idx], nil
}

func (h *Heap) SetClosureUpvalue(v value.Value, idx int, val value.Value) error {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return err
	}
	b, ok := obj.b.(*closureBody)
	if !ok {
		return newTypeMismatchError("closure", obj.b.kind())
	}
	if idx < 0 || idx >= len(b.upvalues) {
		return newOutOfBoundsError(idx, len(b.upvalues))
	}
	old := b.upvalues[idx]
	b.upvalues[idx] = val
	h.Release(old)
	return nil
}

// ---- Fiber ------------------------------------------------------------

// FiberStatus tracks a coroutine's lifecycle.
type FiberStatus uint8

const (
	FiberNew FiberStatus = iota
	FiberSuspended
	FiberRunning
	FiberDone
)

// fiberBody is {separate stack, saved frame pointer/program counter, parent}
// (§3). Registers holds the fiber's own register window contents; PC is the
// resume point; Parent is the fiber (or value.None at the root) that
// resumed this one and will regain control on coreturn/coyield.
type fiberBody struct {
	registers []value.Value
	pc        uint32
	parent    value.Value
	status    FiberStatus
}

func (f *fiberBody) kind() Kind { return KindFiber }
func (f *fiberBody) releaseChildren(h *Heap) {
	for _, r := range f.registers {
		h.Release(r)
	}
	h.Release(f.parent)
}
func (f *fiberBody) approxSize() uint64 { return uint64(len(f.registers))*8 + 64 }

// NewFiber allocates a fresh fiber with an initial register window of size
// stackSize, paused before its first instruction.
func (h *Heap) NewFiber(typeID uint32, stackSize int) (value.Value, error) {
	return h.allocObject(typeID, &fiberBody{
		registers: make([]value.Value, stackSize),
		status:    FiberNew,
	})
}

func (h *Heap) asFiber(v value.Value) (*fiberBody, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return nil, err
	}
	b, ok := obj.b.(*fiberBody)
	if !ok {
		return nil, newTypeMismatchError("fiber", obj.b.kind())
	}
	return b, nil
}

func (h *Heap) FiberStatus(v value.Value) (FiberStatus, error) {
	b, err := h.asFiber(v)
	if err != nil {
		return 0, err
	}
	return b.status, nil
}

func (h *Heap) SetFiberStatus(v value.Value, s FiberStatus) error {
	b, err := h.asFiber(v)
	if err != nil {
		return err
	}
	b.status = s
	return nil
}

func (h *Heap) FiberRegisters(v value.Value) ([]value.Value, error) {
	b, err := h.asFiber(v)
	if err != nil {
		return nil, err
	}
	return b.registers, nil
}

func (h *Heap) FiberPC(v value.Value) (uint32, error) {
	b, err := h.asFiber(v)
	if err != nil {
		return 0, err
	}
	return b.pc, nil
}

func (h *Heap) SetFiberPC(v value.Value, pc uint32) error {
	b, err := h.asFiber(v)
	if err != nil {
		return err
	}
	b.pc = pc
	return nil
}

func (h *Heap) FiberParent(v value.Value) (value.Value, error) {
	b, err := h.asFiber(v)
	if err != nil {
		return 0, err
	}
	return b.parent, nil
}

func (h *Heap) SetFiberParent(v, parent value.Value) error {
	b, err := h.asFiber(v)
	if err != nil {
		return err
	}
	old := b.parent
	b.parent = parent
	h.Release(old)
	return nil
}

// ---- Opaque pointer -----------------------------------------------------

// opaquePointerBody holds a native pointer the VM never dereferences itself
// — only FFI shims and the code that produced it know its shape.
type opaquePointerBody struct {
	ptr uintptr
}

func (o *opaquePointerBody) kind() Kind             { return KindOpaquePointer }
func (o *opaquePointerBody) releaseChildren(*Heap)  {}
func (o *opaquePointerBody) approxSize() uint64     { return 16 }

func (h *Heap) NewOpaquePointer(ptr uintptr) (value.Value, error) {
	return h.allocObject(TypeIDOpaquePointer, &opaquePointerBody{ptr: ptr})
}

func (h *Heap) OpaquePointer(v value.Value) (uintptr, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	b, ok := obj.b.(*opaquePointerBody)
	if !ok {
		return 0, newTypeMismatchError("opaque pointer", obj.b.kind())
	}
	return b.ptr, nil
}

// ---- TCC state ------------------------------------------------------------

// tccStateBody owns the in-memory code arena of a generated FFI module
// (§3, §4.E). Its refcount equals the number of bound function values still
// referencing it (§4.E, scenario 5); when it reaches zero the arena is
// unmapped.
type tccStateBody struct {
	arena    []byte // the mmap'd executable pages, kept alive here
	unmap    func([]byte) error
	unmapped bool
}

func (t *tccStateBody) kind() Kind { return KindTCCState }
func (t *tccStateBody) releaseChildren(*Heap) {
	if t.unmapped || t.unmap == nil {
		return
	}
	t.unmap(t.arena)
	t.unmapped = true
}
func (t *tccStateBody) approxSize() uint64 { return uint64(len(t.arena)) }

// NewTCCState allocates a heap handle owning arena, released via unmap when
// the last bound function referencing it is released.
func (h *Heap) NewTCCState(arena []byte, unmap func([]byte) error) (value.Value, error) {
	return h.allocObject(TypeIDTCCState, &tccStateBody{arena: arena, unmap: unmap})
}

// ---- Bound function -------------------------------------------------------

// boundFunctionBody is a callable produced by the FFI trampoline: a native
// function pointer plus the TCC-state handle keeping its code arena mapped.
type boundFunctionBody struct {
	fnPtr    uintptr
	sigID    uint32
	tccState value.Value
}

func (b *boundFunctionBody) kind() Kind { return KindBoundFunction }
func (b *boundFunctionBody) releaseChildren(h *Heap) {
	h.Release(b.tccState)
}
func (b *boundFunctionBody) approxSize() uint64 { return 32 }

// NewBoundFunction allocates a callable FFI-bound function value. tccState
// must already be retained for this binding; releasing the bound function
// releases the TCC state in turn, so the arena is unmapped only once every
// bound function from it has gone away (§4.E).
func (h *Heap) NewBoundFunction(fnPtr uintptr, sigID uint32, tccState value.Value) (value.Value, error) {
	return h.allocObject(TypeIDBoundFunction, &boundFunctionBody{fnPtr: fnPtr, sigID: sigID, tccState: tccState})
}

func (h *Heap) BoundFunctionPtr(v value.Value) (uintptr, uint32, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, 0, err
	}
	b, ok := obj.b.(*boundFunctionBody)
	if !ok {
		return 0, 0, newTypeMismatchError("bound function", obj.b.kind())
	}
	return b.fnPtr, b.sigID, nil
}

// ---- User object ------------------------------------------------------

// objectBody is a user-defined struct with N value fields (§3).
type objectBody struct {
	fields []value.Value
}

func (o *objectBody) kind() Kind { return KindObject }
func (o *objectBody) releaseChildren(h *Heap) {
	for _, f := range o.fields {
		h.Release(f)
	}
}
func (o *objectBody) approxSize() uint64 { return uint64(len(o.fields))*8 + 16 }

// NewObject allocates a user-defined object with the given fields (already
// retained by the caller).
func (h *Heap) NewObject(typeID uint32, fields []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(fields))
	copy(cp, fields)
	return h.allocObject(typeID, &objectBody{fields: cp})
}

func (h *Heap) ObjectField(v value.Value, idx int) (value.Value, error) {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return 0, err
	}
	b, ok := obj.b.(*objectBody)
	if !ok {
		return 0, newTypeMismatchError("object", obj.b.kind())
	}
	if idx < 0 || idx >= len(b.fields) {
		return 0, newOutOfBoundsError(idx, len(b.fields))
	}
	return b.fields[idx], nil
}

func (h *Heap) SetObjectField(v value.Value, idx int, val value.Value) error {
	obj, err := h.lookup(v.AsHandle())
	if err != nil {
		return err
	}
	b, ok := obj.b.(*objectBody)
	if !ok {
		return newTypeMismatchError("object", obj.b.kind())
	}
	if idx < 0 || idx >= len(b.fields) {
		return newOutOfBoundsError(idx, len(b.fields))
	}
	old := b.fields[idx]
	b.fields[idx] = val
	h.Release(old)
	return nil
}

// Built-in type ids for the heap's own object kinds. User-defined types
// (components C/D's runtime type table) are assigned ids starting at
// FirstUserTypeID so they never collide with these.
const (
	TypeIDList uint32 = iota
	TypeIDMap
	TypeIDStringASCII
	TypeIDStringUTF8
	TypeIDStringRaw
	TypeIDClosure
	TypeIDFiber
	TypeIDOpaquePointer
	TypeIDTCCState
	TypeIDBoundFunction
	FirstUserTypeID
)
