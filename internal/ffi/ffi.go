// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package ffi implements Cyber's dynamic FFI trampoline synthesizer (§4.E):
// given a resolved native code image and a list of function descriptors, it
// produces one callable bound-function value per descriptor, each backed by
// a small machine-code shim living in an executable page rather than a
// compiled C translation unit — the "equivalent implementation may emit the
// trampolines directly as machine code" option spec.md's design notes leave
// open (§9), chosen because no example in this corpus carries a cgo-free
// in-process C compiler dependency (the teacher's own FFI-shaped dependency,
// gopkg.in/olebedev/go-duktape.v3, needs cgo and a vendored C library; see
// DESIGN.md).
//
// The marshaling logic described in §4.E step 2 (unpack tagged args, call,
// repack the result) is ordinary Go, grounded on the teacher's
// lang/vm/vm.go dispatch style; only the calling-convention glue — crossing
// from Go into a foreign function pointer — needs real machine code, and
// that glue is generic across every descriptor (see trampoline_amd64.go).
package ffi

import (
	"errors"
	"fmt"
	"math"
	"plugin"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

// floatBits/bitsToFloat cross a float64 to/from the uint64 lane native
// arguments and results travel in; ccall's calling convention only knows
// about 64-bit words, so every float descriptor type round-trips through
// the same bit-for-bit reinterpretation doubles already use on Cyber's own
// tagged-value side (§3).
func floatBits(f float64) uint64   { return math.Float64bits(f) }
func bitsToFloat(u uint64) float64 { return math.Float64frombits(u) }

// DescType enumerates the C parameter/return kinds a function descriptor
// may use (§4.E). float/f32 and double/f64 are the same two classes under
// two spec-given spellings; this package only needs one constant per class.
type DescType uint8

const (
	DescBool DescType = iota
	DescI8
	DescU8
	DescI16
	DescU16
	DescI32
	DescU32
	DescInt
	DescF32
	DescF64
	DescVoid
	DescCharPtrZ
	DescPtr
)

func (d DescType) String() string {
	switch d {
	case DescBool:
		return "bool"
	case DescI8:
		return "i8"
	case DescU8:
		return "u8"
	case DescI16:
		return "i16"
	case DescU16:
		return "u16"
	case DescI32:
		return "i32"
	case DescU32:
		return "u32"
	case DescInt:
		return "int"
	case DescF32:
		return "f32"
	case DescF64:
		return "f64"
	case DescVoid:
		return "void"
	case DescCharPtrZ:
		return "charPtrZ"
	case DescPtr:
		return "ptr"
	default:
		return "unknown"
	}
}

// FuncDesc describes one C symbol to bind: its name in the native image,
// its parameter kinds in call order, and its return kind (§4.E).
type FuncDesc struct {
	Symbol string
	Params []DescType
	Return DescType
}

// Sentinel error values. §7 classifies these as error-kind tagged values at
// the Cyber level (FileNotFound, MissingSymbol); this package returns plain
// Go errors wrapping these sentinels and leaves constructing the
// value.Error symbol to the caller that owns the interned-symbol table
// (internal/ir's external front-end), matching how internal/heap leaves
// out-of-bounds/type-mismatch Cyber-level reporting to its own caller.
var (
	ErrFileNotFound    = errors.New("ffi: file not found")
	ErrMissingSymbol   = errors.New("ffi: missing symbol")
	ErrUnknownDescType = errors.New("ffi: unknown descriptor type")
	ErrCompileFailed   = errors.New("ffi: trampoline compilation failed")
	ErrRelocFailed     = errors.New("ffi: trampoline relocation failed")
	ErrUnsupportedArch = errors.New("ffi: machine-code trampoline not implemented for this architecture")
)

// Image is a resolved native code image: a name-keyed table of function
// entry addresses (§4.E step 1, "library handle (native code image)").
// Building one is inherently platform-specific — see OpenPluginImage for
// this module's one concrete loader.
type Image interface {
	// Resolve returns symbol's entry address, or ok=false if the image
	// carries no such symbol.
	Resolve(symbol string) (uintptr, bool)
}

// pluginImage adapts the stdlib "plugin" package (the only dynamic-loading
// facility in this module's dependency surface that needs no cgo) to the
// Image contract. It resolves Go-plugin-exported function values rather
// than arbitrary C symbols — a real dlopen(3) binding needs cgo, which the
// dropped go-duktape.v3 dependency already shows isn't available here (see
// DESIGN.md); hosts that need to bind a genuine C shared library supply
// their own Image backed by whatever platform loader they embed.
type pluginImage struct {
	p *plugin.Plugin
}

// OpenPluginImage loads the Go plugin at path and returns it as an Image.
// FileNotFound and load/parse failures are both reported as ErrFileNotFound
// since, unlike MissingSymbol, neither is specific to one requested symbol.
func OpenPluginImage(path string) (Image, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFileNotFound, path, err)
	}
	return &pluginImage{p: p}, nil
}

func (pi *pluginImage) Resolve(symbol string) (uintptr, bool) {
	sym, err := pi.p.Lookup(symbol)
	if err != nil {
		return 0, false
	}
	fn := reflect.ValueOf(sym)
	if fn.Kind() == reflect.Ptr {
		fn = fn.Elem()
	}
	if fn.Kind() != reflect.Func {
		return 0, false
	}
	return fn.Pointer(), true
}

// StaticImage is an Image backed by a plain map, for tests and for hosts
// that already have their own symbol table (e.g. one built from a
// reflect-based shim over Go functions standing in for native ones).
type StaticImage map[string]uintptr

func (s StaticImage) Resolve(symbol string) (uintptr, bool) {
	addr, ok := s[symbol]
	return addr, ok
}

// Binder synthesizes FFI trampolines and owns every arena it has mmap'd.
// One Binder may service many Bind calls against different images; each
// Bind call gets its own TCC-state heap object and executable arena, per
// §3's "TCC state: owns the in-memory code arena of a generated FFI
// module" (one arena per bound module, not one global arena).
type Binder struct {
	h *heap.Heap

	mu      sync.Mutex
	sigs    map[uint32]FuncDesc
	nextSig uint32

	grp singleflight.Group // dedupes concurrent Bind(path, ...) re-entrant calls
}

// NewBinder returns a Binder allocating heap objects from h.
func NewBinder(h *heap.Heap) *Binder {
	return &Binder{h: h, sigs: make(map[uint32]FuncDesc)}
}

// Bind implements §4.E's algorithm: resolve every descriptor's symbol,
// synthesize one machine-code shim per descriptor into a shared executable
// arena, and return a Cyber map value from symbol name to bound-function
// value. Each bound-function value holds one reference to the TCC-state
// heap object backing the arena, so on return its refcount equals the
// number of descriptors; releasing every entry of the map drops it to 0
// and unmaps the arena (§4.E, §8 scenario 5).
func (b *Binder) Bind(img Image, descs []FuncDesc) (value.Value, error) {
	key := fmt.Sprintf("%p", img)
	v, err, _ := b.grp.Do(key, func() (interface{}, error) {
		return b.bind(img, descs)
	})
	if err != nil {
		return value.None, err
	}
	return v.(value.Value), nil
}

// maxTrampolineArgs bounds how many parameters one descriptor may carry:
// rawCall6's calling-convention glue only loads the six System V integer
// argument registers and never spills extra args to the stack.
const maxTrampolineArgs = 6

func (b *Binder) bind(img Image, descs []FuncDesc) (value.Value, error) {
	resolved := make([]uintptr, len(descs))
	for i, d := range descs {
		if len(d.Params) > maxTrampolineArgs {
			return value.None, fmt.Errorf("%w: %s takes %d params, trampoline supports at most %d",
				ErrCompileFailed, d.Symbol, len(d.Params), maxTrampolineArgs)
		}
		for _, p := range d.Params {
			if !validDescType(p) {
				return value.None, fmt.Errorf("%w: %s", ErrUnknownDescType, p)
			}
		}
		if !validDescType(d.Return) && d.Return != DescVoid {
			return value.None, fmt.Errorf("%w: %s", ErrUnknownDescType, d.Return)
		}
		addr, ok := img.Resolve(d.Symbol)
		if !ok {
			return value.None, fmt.Errorf("%w: %s", ErrMissingSymbol, d.Symbol)
		}
		resolved[i] = addr
	}

	shims, arena, err := buildTrampolines(resolved)
	if err != nil {
		return value.None, err
	}

	tccState, err := b.h.NewTCCState(arena, unmapArena)
	if err != nil {
		return value.None, err
	}
	// tccState starts at refcount 1 for this function's own hold on it;
	// every bound-function entry below takes its own retain, so this hold
	// is released once the map is fully populated (or on any error exit).
	defer b.h.Release(tccState)

	m, err := b.h.NewMap(heap.TypeIDMap)
	if err != nil {
		return value.None, err
	}

	for i, d := range descs {
		b.mu.Lock()
		sigID := b.nextSig
		b.nextSig++
		b.sigs[sigID] = d
		b.mu.Unlock()

		b.h.Retain(tccState)
		boundFn, err := b.h.NewBoundFunction(shims[i], sigID, tccState)
		if err != nil {
			b.h.Release(tccState)
			b.h.Release(m)
			return value.None, err
		}
		nameVal, err := b.h.NewASCIIString(d.Symbol)
		if err != nil {
			b.h.Release(boundFn)
			b.h.Release(m)
			return value.None, err
		}
		if err := b.h.MapSet(m, nameVal, boundFn); err != nil {
			b.h.Release(nameVal)
			b.h.Release(boundFn)
			b.h.Release(m)
			return value.None, err
		}
	}

	return m, nil
}

func validDescType(d DescType) bool {
	return d <= DescPtr
}

// Invoke runs the bound function identified by (fnPtr, sigID): unpacks args
// per the recorded FuncDesc, crosses into native code through the
// machine-code shim at fnPtr, and repacks the result (§4.E step 2). This is
// the callback internal/vm.VM.SetFFIInvoker installs so that calling a
// bound-function Cyber value behaves exactly like calling any other
// callable, without the VM importing this package.
func (b *Binder) Invoke(fnPtr uintptr, sigID uint32, args []value.Value) (value.Value, error) {
	b.mu.Lock()
	desc, ok := b.sigs[sigID]
	b.mu.Unlock()
	if !ok {
		return value.None, fmt.Errorf("ffi: invoke with unknown signature id %d", sigID)
	}
	if len(args) != len(desc.Params) {
		return value.None, fmt.Errorf("ffi: %s expects %d args, got %d", desc.Symbol, len(desc.Params), len(args))
	}

	native := make([]uint64, len(args))
	var toFree []uintptr // charPtrZ allocations, freed after the call per §9's borrowed-lifetime decision
	for i, p := range desc.Params {
		bits, freed, err := b.marshalArg(p, args[i])
		if err != nil {
			return value.None, err
		}
		native[i] = bits
		if freed != 0 {
			toFree = append(toFree, freed)
		}
	}

	result := ccall(fnPtr, native)
	for _, ptr := range toFree {
		freeCString(ptr)
	}

	return b.unmarshalResult(desc.Return, result)
}

// marshalArg converts one tagged argument to its native bit pattern. The
// open question on bool packing (§9) is resolved here by branching on the
// value's tag class rather than comparing raw bits against value.True.
func (b *Binder) marshalArg(d DescType, v value.Value) (bits uint64, cstrToFree uintptr, err error) {
	switch d {
	case DescBool:
		if v.Kind() != value.KindBool {
			return 0, 0, fmt.Errorf("ffi: expected bool argument, got kind %v", v.Kind())
		}
		if v.AsBool() {
			return 1, 0, nil
		}
		return 0, 0, nil
	case DescI8, DescU8, DescI16, DescU16, DescI32, DescU32, DescInt:
		if v.Kind() != value.KindInteger {
			return 0, 0, fmt.Errorf("ffi: expected integer argument, got kind %v", v.Kind())
		}
		return uint64(v.AsInt()), 0, nil
	case DescF32, DescF64:
		if v.Kind() != value.KindFloat {
			return 0, 0, fmt.Errorf("ffi: expected float argument, got kind %v", v.Kind())
		}
		return floatBits(v.AsFloat()), 0, nil
	case DescCharPtrZ:
		s, err := b.h.StringBytes(v)
		if err != nil {
			return 0, 0, err
		}
		ptr := newCString(s)
		return uint64(ptr), ptr, nil
	case DescPtr:
		ptr, err := b.h.OpaquePointer(v)
		if err != nil {
			return 0, 0, err
		}
		return uint64(ptr), 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownDescType, d)
	}
}

// unmarshalResult converts a native result word back to a tagged value.
func (b *Binder) unmarshalResult(d DescType, result uint64) (value.Value, error) {
	switch d {
	case DescVoid:
		return value.None, nil
	case DescBool:
		return value.Bool(result != 0), nil
	case DescI8:
		return value.Int(int64(int8(result))), nil
	case DescU8:
		return value.Int(int64(uint8(result))), nil
	case DescI16:
		return value.Int(int64(int16(result))), nil
	case DescU16:
		return value.Int(int64(uint16(result))), nil
	case DescI32:
		return value.Int(int64(int32(result))), nil
	case DescU32:
		return value.Int(int64(uint32(result))), nil
	case DescInt:
		return value.Int(int64(result)), nil
	case DescF32, DescF64:
		return value.Float(bitsToFloat(result)), nil
	case DescCharPtrZ:
		s := readCString(uintptr(result))
		return b.h.NewRawString([]byte(s))
	case DescPtr:
		return b.h.NewOpaquePointer(uintptr(result))
	default:
		return value.None, fmt.Errorf("%w: %s", ErrUnknownDescType, d)
	}
}
