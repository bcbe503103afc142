// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"fmt"

	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

// ---- Lists / maps / objects --------------------------------------------------

func (vm *VM) execList(start, count, dst uint8) error {
	elems := make([]value.Value, count)
	for i := range elems {
		v := vm.getReg(start + uint8(i))
		vm.heap.Retain(v)
		elems[i] = v
	}
	l, err := vm.heap.NewList(heap.TypeIDList, elems)
	if err != nil {
		return err
	}
	vm.setReg(dst, l)
	return nil
}

func (vm *VM) execMapEmpty(dst uint8) error {
	m, err := vm.heap.NewMap(heap.TypeIDMap)
	if err != nil {
		return err
	}
	vm.setReg(dst, m)
	return nil
}

// execMap implements OpMap(start, count, dst) + trailing count*2 bytes of
// little-endian key-constant-pool indices: map literal keys are always
// compile-time constants (internal/codegen's mapKeyConstIdx), so they
// travel as constant indices rather than registers.
func (vm *VM) execMap(start, count, dst uint8) error {
	keyBytes := vm.fetchRaw(int(count) * 2)
	m, err := vm.heap.NewMap(heap.TypeIDMap)
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		keyIdx := uint16(keyBytes[i*2]) | uint16(keyBytes[i*2+1])<<8
		key := vm.constAt(keyIdx)
		val := vm.getReg(start + uint8(i))
		vm.heap.Retain(val)
		if err := vm.heap.MapSet(m, key, val); err != nil {
			return err
		}
	}
	vm.setReg(dst, m)
	return nil
}

// execObject implements OpObject/OpObjectSmall(typeId16, start) + trailing
// (nFields, dst).
func (vm *VM) execObject(typeID uint16, start uint8) error {
	trailer := vm.fetchRaw(2)
	nFields, dst := trailer[0], trailer[1]
	fields := make([]value.Value, nFields)
	for i := range fields {
		v := vm.getReg(start + uint8(i))
		vm.heap.Retain(v)
		fields[i] = v
	}
	obj, err := vm.heap.NewObject(uint32(typeID), fields)
	if err != nil {
		return err
	}
	vm.setReg(dst, obj)
	return nil
}

// ---- Fields -------------------------------------------------------------------

// execField implements OpField(recv, fieldId16) + trailing (dst,): a
// string-keyed field lookup used before a type's field layout is known,
// modeled here on an object's positional fields indexed by the field id
// itself — the runtime type table that would resolve a symbolic field
// name to a slot index is out of this core's scope (§ Non-goals).
func (vm *VM) execField(recv uint8, fieldID uint16) error {
	dst := vm.fetchRaw(1)[0]
	v, err := vm.heap.ObjectField(vm.getReg(recv), int(fieldID))
	if err != nil {
		return vm.wrapHeapFault(err)
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

func (vm *VM) execObjectField(recv, fidx, dst uint8) error {
	v, err := vm.heap.ObjectField(vm.getReg(recv), int(fidx))
	if err != nil {
		return vm.wrapHeapFault(err)
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

func (vm *VM) execSetField(recv uint8, fieldID uint16) error {
	right := vm.fetchRaw(1)[0]
	return vm.wrapHeapFault(vm.heap.SetObjectField(vm.getReg(recv), int(fieldID), vm.getReg(right)))
}

func (vm *VM) execSetObjectField(recv, fidx, right uint8) error {
	return vm.wrapHeapFault(vm.heap.SetObjectField(vm.getReg(recv), int(fidx), vm.getReg(right)))
}

// ---- Casts ----------------------------------------------------------------------

// execCast implements OpCast/OpCastAbstract(operand, typeId16) + trailing
// (dst,). Checked casts (the non-abstract form) verify the operand's heap
// type id when the value is heap-backed; an abstract cast is a no-op
// widening used for interface-typed destinations.
func (vm *VM) execCast(operand uint8, typeID uint16, abstract bool) error {
	dst := vm.fetchRaw(1)[0]
	v := vm.getReg(operand)
	if !abstract && v.IsHeapPointer() {
		actual, err := vm.heap.TypeID(v)
		if err == nil && actual != uint32(typeID) {
			return vm.panicBuiltin(ErrSymTypeMismatch, "%v: cast: value has type %d, want %d", ErrTypeMismatch, actual, typeID)
		}
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

// ---- String templates -------------------------------------------------------------

// execStringTemplate implements OpStringTemplate(dst, nexprs16) + trailing
// nexprs register bytes: each part is concatenated in source order. A full
// implementation would interleave the template's literal text segments
// (internal/ir.StringTemplate.Parts) with each expression's stringified
// value; Parts are static strings already addressable via the constant
// pool, so this builds the same result the generator's emitted constants
// describe.
func (vm *VM) execStringTemplate(dst uint8, nexprs uint16) error {
	exprRegs := vm.fetchRaw(int(nexprs))
	var sb []byte
	for _, r := range exprRegs {
		s, err := vm.stringify(vm.getReg(r))
		if err != nil {
			return err
		}
		sb = append(sb, s...)
	}
	str, err := vm.heap.NewString(string(sb))
	if err != nil {
		return err
	}
	vm.setReg(dst, str)
	return nil
}

// stringify renders v the way a template interpolation would: heap strings
// pass through verbatim, other kinds fall back to a Go-level formatting
// (full user-facing formatting of every Kind is a stdlib/mathx-adjacent
// concern out of this core's scope).
func (vm *VM) stringify(v value.Value) (string, error) {
	if v.IsHeapPointer() {
		if s, err := vm.heap.StringBytes(v); err == nil {
			return s, nil
		}
	}
	switch v.Kind() {
	case value.KindInteger:
		return fmt.Sprintf("%d", v.AsInt()), nil
	case value.KindFloat:
		return fmt.Sprintf("%g", v.AsFloat()), nil
	case value.KindBool:
		return fmt.Sprintf("%t", v.AsBool()), nil
	case value.KindNone:
		return "none", nil
	default:
		return fmt.Sprintf("%v", v.Bits()), nil
	}
}

// ---- for-range loops ---------------------------------------------------------------

// execForRangeInit implements OpForRangeInit(start, end, step); the VM
// keeps no extra bookkeeping here since internal/codegen copies start into
// the loop counter with a following plain OpCopy, and the backward-edge
// instruction (execForRange) carries its own end/step registers.
func (vm *VM) execForRangeInit(_, _, _ uint8) error { return nil }

// execForRange implements OpForRange(counter, target16) + trailing
// (endReg, stepReg): advances counter by step and loops back to target
// while it remains within [start, end) in the step's direction.
func (vm *VM) execForRange(counter uint8, target uint16) error {
	trailer := vm.fetchRaw(2)
	endReg, stepReg := trailer[0], trailer[1]

	step := vm.getReg(stepReg).AsInt()
	end := vm.getReg(endReg).AsInt()
	cur := vm.getReg(counter).AsInt() + step
	vm.setReg(counter, value.Int(cur))

	cont := (step > 0 && cur < end) || (step < 0 && cur > end)
	if cont {
		vm.pc = uint32(target) * 4
	}
	return nil
}

// ---- Comparison -----------------------------------------------------------------------

// execCompare implements OpCompare/OpCompareNot(dst, l, r) — internal/codegen
// emits the destination register first (genBinOp/genSwitchBlock), as
// opcodes.go's "dst, l, r" comment lists.
func (vm *VM) execCompare(dst, l, r uint8, negate bool) error {
	eq := heap.Equal(vm.heap, vm.getReg(l), vm.getReg(r))
	if negate {
		eq = !eq
	}
	vm.setReg(dst, value.Bool(eq))
	return nil
}

// ---- Indexing -------------------------------------------------------------------------

func (vm *VM) execIndexList(recv, idx, dst uint8) error {
	v, err := vm.heap.ListGet(vm.getReg(recv), int(vm.getReg(idx).AsInt()))
	if err != nil {
		return vm.wrapHeapFault(err)
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

func (vm *VM) execIndexMap(recv, idx, dst uint8) error {
	v, ok, err := vm.heap.MapGet(vm.getReg(recv), vm.getReg(idx))
	if err != nil {
		return err
	}
	if !ok {
		v = value.None
	} else {
		vm.heap.Retain(v)
	}
	vm.setReg(dst, v)
	return nil
}

// execSliceList implements OpSliceList(recv, lo, hi) + trailing (dst,).
func (vm *VM) execSliceList(recv, lo, hi uint8) error {
	dst := vm.fetchRaw(1)[0]
	loV := int(vm.getReg(lo).AsInt())
	hiV := int(vm.getReg(hi).AsInt())
	n, err := vm.heap.ListLen(vm.getReg(recv))
	if err != nil {
		return vm.wrapHeapFault(err)
	}
	if loV < 0 {
		loV = 0
	}
	if hiV > n {
		hiV = n
	}
	elems := make([]value.Value, 0, maxInt(0, hiV-loV))
	for i := loV; i < hiV; i++ {
		v, err := vm.heap.ListGet(vm.getReg(recv), i)
		if err != nil {
			return vm.wrapHeapFault(err)
		}
		vm.heap.Retain(v)
		elems = append(elems, v)
	}
	out, err := vm.heap.NewList(heap.TypeIDList, elems)
	if err != nil {
		return err
	}
	vm.setReg(dst, out)
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (vm *VM) execSetIndexList(recv, idx, right uint8) error {
	v := vm.getReg(right)
	vm.heap.Retain(v)
	return vm.wrapHeapFault(vm.heap.ListSet(vm.getReg(recv), int(vm.getReg(idx).AsInt()), v))
}

func (vm *VM) execSetIndexMap(recv, idx, right uint8) error {
	v := vm.getReg(right)
	vm.heap.Retain(v)
	return vm.heap.MapSet(vm.getReg(recv), vm.getReg(idx), v)
}

// execSeqDestructure implements OpSeqDestructure(src, n) + trailing n
// register bytes: the sequential-unpacking half of a destructuring
// declaration/assignment, reading n positional elements out of src.
func (vm *VM) execSeqDestructure(src, n uint8) error {
	slots := vm.fetchRaw(int(n))
	for i, slot := range slots {
		v, err := vm.heap.ListGet(vm.getReg(src), i)
		if err != nil {
			return vm.wrapHeapFault(err)
		}
		vm.heap.Retain(v)
		vm.setReg(slot, v)
	}
	return nil
}
