// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package mathx is a native-function stdlib module providing J/APL-style
// typed-array operations (map, zip, filter, reduce, iota, dot) over
// heap-backed Cyber lists.
//
// Grounded on probe-lang/stdlib/math/math.go's U64Array, whose Map/Zip/
// Filter/Reduce/Dot methods this package keeps (names, composition via
// Dot = Zip then Sum) while rewiring them: the teacher's functions close
// over a Go func(uint64) uint64 callback; here the callback is a Cyber
// value (lambda or closure) invoked through internal/vm.VM.CallValue, and
// the array itself is a Cyber heap list rather than a bare []uint64 slice,
// since this module has no separate typed-array heap kind of its own.
package mathx

import (
	"fmt"

	"github.com/probechain/cyber-lang/internal/ffinative"
	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
	"github.com/probechain/cyber-lang/internal/vm"
)

// Registry holds every function this module exports, ready for a loader
// to bind via ffinative.BindAll once it has assigned symbol ids.
var Registry = ffinative.NewRegistry()

func init() {
	Registry.Register("mathx.map", mapFn)
	Registry.Register("mathx.zip", zipFn)
	Registry.Register("mathx.filter", filterFn)
	Registry.Register("mathx.reduce", reduceFn)
	Registry.Register("mathx.iota", iotaFn)
	Registry.Register("mathx.dot", dotFn)
	Registry.Register("mathx.sum", sumFn)
}

func listInts(h *heap.Heap, v value.Value) ([]int64, error) {
	n, err := h.ListLen(v)
	if err != nil {
		return nil, fmt.Errorf("mathx: argument is not a list: %w", err)
	}
	out := make([]int64, n)
	for i := range out {
		elem, err := h.ListGet(v, i)
		if err != nil {
			return nil, err
		}
		out[i] = elem.AsInt()
	}
	return out, nil
}

func newIntList(vm *vm.VM, xs []int64) (value.Value, error) {
	elems := make([]value.Value, len(xs))
	for i, x := range xs {
		elems[i] = value.Int(x)
	}
	return vm.Heap().NewList(heap.TypeIDList, elems)
}

// mapFn implements mathx.map(list, fn): monadic map, probe-lang's Map.
func mapFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.None, fmt.Errorf("mathx.map: want 2 args, got %d", len(args))
	}
	xs, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	out := make([]int64, len(xs))
	for i, x := range xs {
		result, err := vmi.CallValue(args[1], []value.Value{value.Int(x)})
		if err != nil {
			return value.None, err
		}
		out[i] = result.AsInt()
	}
	return newIntList(vmi, out)
}

// zipFn implements mathx.zip(a, b, fn): dyadic zip, probe-lang's Zip.
func zipFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return value.None, fmt.Errorf("mathx.zip: want 3 args, got %d", len(args))
	}
	a, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	b, err := listInts(vmi.Heap(), args[1])
	if err != nil {
		return value.None, err
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		result, err := vmi.CallValue(args[2], []value.Value{value.Int(a[i]), value.Int(b[i])})
		if err != nil {
			return value.None, err
		}
		out[i] = result.AsInt()
	}
	return newIntList(vmi, out)
}

// filterFn implements mathx.filter(list, pred), probe-lang's Filter.
func filterFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.None, fmt.Errorf("mathx.filter: want 2 args, got %d", len(args))
	}
	xs, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	var out []int64
	for _, x := range xs {
		result, err := vmi.CallValue(args[1], []value.Value{value.Int(x)})
		if err != nil {
			return value.None, err
		}
		if result.Kind() == value.KindBool && result.AsBool() {
			out = append(out, x)
		}
	}
	return newIntList(vmi, out)
}

// reduceFn implements mathx.reduce(list, init, fn), probe-lang's Reduce.
func reduceFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return value.None, fmt.Errorf("mathx.reduce: want 3 args, got %d", len(args))
	}
	xs, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	acc := args[1].AsInt()
	for _, x := range xs {
		result, err := vmi.CallValue(args[2], []value.Value{value.Int(acc), value.Int(x)})
		if err != nil {
			return value.None, err
		}
		acc = result.AsInt()
	}
	return value.Int(acc), nil
}

// iotaFn implements mathx.iota(n): [0, 1, ..., n-1], probe-lang's Iota.
func iotaFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.None, fmt.Errorf("mathx.iota: want 1 arg, got %d", len(args))
	}
	n := args[0].AsInt()
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return newIntList(vmi, out)
}

// sumFn implements mathx.sum(list), probe-lang's Sum (reduce +, identity 0).
func sumFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.None, fmt.Errorf("mathx.sum: want 1 arg, got %d", len(args))
	}
	xs, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	var s int64
	for _, x := range xs {
		s += x
	}
	return value.Int(s), nil
}

// dotFn implements mathx.dot(a, b): zip with * then sum, probe-lang's Dot.
func dotFn(vmi *vm.VM, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.None, fmt.Errorf("mathx.dot: want 2 args, got %d", len(args))
	}
	a, err := listInts(vmi.Heap(), args[0])
	if err != nil {
		return value.None, err
	}
	b, err := listInts(vmi.Heap(), args[1])
	if err != nil {
		return value.None, err
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s int64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return value.Int(s), nil
}
