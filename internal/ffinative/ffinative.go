// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package ffinative defines the native function ABI used by the
// hand-written standard library (stdlib/mathx): a Go function taking the
// invoking *vm.VM and a plain args slice, returning a single tagged
// value.Value. FFI-bound functions (internal/ffi) do not go through this
// package; the VM calls them through its SetFFIInvoker hook.
//
// Grounded on the teacher's registered-precompile pattern for native
// contract methods (probe-lang's vm package binds method groups by table
// lookup rather than reflection), generalized from a (typeID, methodGroupID)
// receiver dispatch to a flat symbol table since most native functions
// (math, string, FFI-bound C symbols) have no Cyber-level receiver.
package ffinative

import (
	"fmt"

	"github.com/probechain/cyber-lang/internal/value"
	"github.com/probechain/cyber-lang/internal/vm"
)

// Func is the native function ABI: fn(vm, args) -> value, matching
// internal/vm.BindNativeFunc's unnamed parameter type so a Func value
// assigns there without an explicit conversion.
type Func func(vm *vm.VM, args []value.Value) (value.Value, error)

// Registry is a name-keyed table of native functions, populated at
// package-init time by stdlib modules (see stdlib/mathx) and consulted by
// a loader that assigns each entry a bytecode symbol id and calls
// vm.BindNativeFunc. Keeping registration name-keyed (rather than
// symID-keyed directly) lets a loader built from a separate symbol table
// resolve names to ids however it likes, without stdlib/mathx needing to
// know id assignment.
type Registry struct {
	fns map[string]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register adds fn under name, overwriting any previous registration —
// callers (stdlib/mathx's init) own uniqueness within their own module.
func (r *Registry) Register(name string, fn Func) {
	r.fns[name] = fn
}

// Lookup returns the function registered under name, or an error naming
// the symbol a loader tried and failed to resolve — mirrors internal/ffi's
// MissingSymbol so both native-binding failure modes read the same way to
// a caller walking a manifest of expected symbols.
func (r *Registry) Lookup(name string) (Func, error) {
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("ffinative: no function registered as %q", name)
	}
	return fn, nil
}

// Names returns every registered function name, for a loader to enumerate
// when binding a whole module's symbol table at once.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.fns))
	for name := range r.fns {
		out = append(out, name)
	}
	return out
}

// BindAll resolves every (name, symID) pair in table against r and binds
// the result into vm, returning the first lookup error encountered (the
// caller's symbol table construction is itself out of this module's
// scope — see SPEC_FULL.md §1 on semantic analysis being an external
// collaborator).
func BindAll(v *vm.VM, r *Registry, table map[string]uint16) error {
	for name, symID := range table {
		fn, err := r.Lookup(name)
		if err != nil {
			return err
		}
		v.BindNativeFunc(symID, func(vm *vm.VM, args []value.Value) (value.Value, error) {
			return fn(vm, args)
		})
	}
	return nil
}
