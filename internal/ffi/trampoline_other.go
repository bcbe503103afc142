// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

//go:build !amd64

package ffi

// buildTrampolines, ccall and unmapArena have only an amd64 implementation
// (trampoline_amd64.go/.s): the calling-convention glue is real machine
// code, so it is inherently architecture-specific. A host building for
// another architecture gets a working package whose Bind calls fail with
// ErrUnsupportedArch rather than a compile error, so the rest of this
// module (value/heap/bytecode/codegen/vm) stays portable.
func buildTrampolines(targets []uintptr) ([]uintptr, []byte, error) {
	return nil, nil, ErrUnsupportedArch
}

func unmapArena(mem []byte) error { return nil }

func ccall(fnPtr uintptr, args []uint64) uint64 {
	panic(ErrUnsupportedArch)
}
