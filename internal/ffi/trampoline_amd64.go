// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

//go:build amd64

package ffi

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// thunkSize is the padded size of one per-descriptor shim. The real
// encoding (movabs rax, target; jmp rax) is 12 bytes; the remainder is
// INT3 padding so every thunk starts on a predictable stride, which keeps
// disassembly/debugging of the arena simple without needing a length table
// alongside it.
const thunkSize = 16

// buildTrampolines mmaps one shared executable arena holding one tail-call
// shim per resolved symbol (§4.E step 2-3): "movabs rax, target; jmp rax".
// The shim carries no argument-marshaling logic of its own — that already
// happened in Go (Binder.marshalArg) before ccall ever crosses into native
// code — so every descriptor's shim is bit-for-bit identical except for
// its embedded target address, regardless of the descriptor's param/return
// types.
func buildTrampolines(targets []uintptr) ([]uintptr, []byte, error) {
	if len(targets) == 0 {
		return nil, nil, nil
	}
	pageSize := unix.Getpagesize()
	size := alignUp(len(targets)*thunkSize, pageSize)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: mmap: %s", ErrCompileFailed, err)
	}

	shims := make([]uintptr, len(targets))
	base := uintptr(unsafe.Pointer(&mem[0]))
	for i, target := range targets {
		off := i * thunkSize
		encodeTailJump(mem[off:off+thunkSize], target)
		shims[i] = base + uintptr(off)
	}

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, nil, fmt.Errorf("%w: mprotect: %s", ErrRelocFailed, err)
	}
	return shims, mem, nil
}

// encodeTailJump writes "movabs rax, target; jmp rax" followed by INT3
// padding (0xCC) to fill out buf to thunkSize.
func encodeTailJump(buf []byte, target uintptr) {
	buf[0], buf[1] = 0x48, 0xB8 // REX.W + movabs rax, imm64
	binary.LittleEndian.PutUint64(buf[2:10], uint64(target))
	buf[10], buf[11] = 0xFF, 0xE0 // jmp rax
	for i := 12; i < len(buf); i++ {
		buf[i] = 0xCC
	}
}

func alignUp(n, align int) int {
	if n == 0 {
		n = align
	}
	return (n + align - 1) &^ (align - 1)
}

// unmapArena releases a trampoline arena back to the OS; installed as the
// TCC-state heap object's unmap callback (§3, internal/heap.NewTCCState).
func unmapArena(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

// rawCall6 is implemented in trampoline_amd64.s: it loads up to six uint64
// arguments into the System V AMD64 integer argument registers and calls
// fn, returning rax. This is the calling-convention glue §4.E's design note
// allows implementing as raw machine code instead of a compiled C shim.
func rawCall6(fn uintptr, a0, a1, a2, a3, a4, a5 uint64) uint64

// ccall crosses from Go into fnPtr (a resolved native symbol or, for a
// bound Cyber value, the tail-call shim produced above) with args already
// marshaled to native bit patterns. Descriptors with more than six
// parameters aren't supported by this trampoline shape — Bind never builds
// one for such a descriptor (see Binder.bind's arg-count check).
func ccall(fnPtr uintptr, args []uint64) uint64 {
	var a [6]uint64
	copy(a[:], args)
	return rawCall6(fnPtr, a[0], a[1], a[2], a[3], a[4], a[5])
}
