// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package vm implements the register-based bytecode interpreter: the
// dispatch loop, call frames, method dispatch, exception propagation, and
// fiber scheduling described by §4.D and §4.E. It consumes exactly the
// internal/bytecode.Buffer internal/codegen produces and operates on
// internal/value.Value registers backed by an internal/heap.Heap.
//
// Grounded on the teacher's lang/vm/vm.go (VM struct, Step/execute dispatch,
// frame stack, a per-instruction budget originally modeled as gas)
// generalized from a flat uint64 register file with a synthetic byte-arena
// memory to a value.Value register file over a refcounted object heap,
// since Cyber's runtime model has no separate linear memory: every
// reference-typed value already lives in internal/heap.
package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/google/uuid"

	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

// ---- Error sentinels -------------------------------------------------------

// ErrHalted is returned when Step is called on a VM that has already halted.
var ErrHalted = errors.New("vm: already halted")

// ErrInvalidOpcode is returned when the fetched byte does not correspond to
// a known opcode.
var ErrInvalidOpcode = errors.New("vm: invalid opcode")

// ErrDivisionByZero is returned by the int-path div/mod opcodes when the
// divisor is zero.
var ErrDivisionByZero = errors.New("vm: division by zero")

// ErrOutOfInstructions is returned when execution exceeds its configured
// instruction budget (internal/config), the scripting-language analogue of
// the teacher's gas limit.
var ErrOutOfInstructions = errors.New("vm: instruction budget exhausted")

// ErrUncaught is returned by Run when a throw propagates past every pushed
// try frame.
var ErrUncaught = errors.New("vm: uncaught error")

// ErrTypeMismatch is returned when an opcode's operand does not carry the
// value.Kind it requires.
var ErrTypeMismatch = errors.New("vm: operand type mismatch")

// ErrNoSuchMethod is returned when a method-group id has no registered
// handler for the receiver's runtime type.
var ErrNoSuchMethod = errors.New("vm: no method bound for this receiver")

// builtinErrSymBase starts a reserved range of error-value symbol ids the
// VM itself mints for an internal fault (division by zero, an
// out-of-bounds index, a missing method binding, a type-check mismatch) —
// disjoint from any symbol id internal/codegen interns from IR data, since
// those are assigned by the (out-of-scope) semantic-analysis stage and
// this module never allocates into that table itself.
const builtinErrSymBase uint32 = 0xFFFF_0000

// Reserved built-in fault symbols, bound into a thrownError's value by
// panicBuiltin so a VM-internal fault unwinds through try/catch exactly
// like an explicit throw (§7, §8).
const (
	ErrSymDivisionByZero uint32 = builtinErrSymBase + iota
	ErrSymIndexOutOfBounds
	ErrSymNoSuchMethod
	ErrSymTypeMismatch
)

// methodFunc is a native method handler bound into a VM's method table —
// the callObjSym dispatch target for one (typeID, methodGroupID) pair.
// Handlers are registered by the host through BindMethod; the VM binds none
// of its own.
type methodFunc func(vm *VM, recv value.Value, args []value.Value) (value.Value, error)

// methodKey identifies one (type, method-group) dispatch table entry.
type methodKey struct {
	typeID uint32
	mgID   uint16
}

// callFrame captures what Step needs to resume the caller after a call
// returns: its own program counter, the frame pointer it was executing
// under, and where in its own register window the return value (or first
// of several, for nret>1) belongs.
type callFrame struct {
	returnPC uint32
	retReg   uint8
	oldFP    uint32
	funcIdx  uint32
}

// tryFrame brackets a pushTry/popTry region; Throw unwinds to the most
// recent entry still on the stack when it propagates.
type tryFrame struct {
	errReg     uint8
	catchPC    uint32
	fp         uint32
	callDepth  int
}

// VM is Cyber's register-based bytecode interpreter for one execution
// context (§4.D). Unlike the teacher's VM, which keeps no heap at all, a VM
// here owns a *heap.Heap for the lifetime of the run and every retain/
// release opcode operates directly against it.
type VM struct {
	heap *heap.Heap

	registers []value.Value
	fp        uint32
	pc        uint32

	entryFuncIdx uint32 // FuncMeta index Run/CallValue's outermost frame executes

	code       []byte
	constants  []uint64
	strings    []byte
	funcs      []bytecode.FuncMeta
	signatures []bytecode.Signature

	callStack []callFrame
	tryStack  []tryFrame

	staticVars  map[uint16]value.Value
	staticFuncs map[uint16]uint16 // symID -> func table index, populated by a loader

	methods     map[methodKey]methodFunc
	methodCache *lru.Cache // memoizes (typeID,mgID) -> methodFunc across calls

	fiberIDs map[value.Handle]string // diagnostic id, assigned on coinit

	nativeFuncs map[uint16]func(vm *VM, args []value.Value) (value.Value, error)

	ffiInvoke func(fnPtr uintptr, sigID uint32, args []value.Value) (value.Value, error)

	halted     bool
	instrUsed  uint64
	instrLimit uint64
}

// New returns a VM ready to execute buf starting at entryFunc, with its own
// fresh heap. instrLimit bounds total dispatched instructions (0 selects
// DefaultInstrLimit) guarding against runaway scripts the way the teacher's
// gas limit guards against runaway contracts.
func New(buf *bytecode.Buffer, entryFunc uint16, instrLimit uint64) (*VM, error) {
	if int(entryFunc) >= len(buf.Funcs) {
		return nil, fmt.Errorf("vm: entry func index %d out of range (%d funcs)", entryFunc, len(buf.Funcs))
	}
	if instrLimit == 0 {
		instrLimit = DefaultInstrLimit
	}
	cache, err := lru.New(MethodCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vm: creating method cache: %w", err)
	}

	entry := buf.Funcs[entryFunc]
	regs := make([]value.Value, entry.StackSize)

	sigs := buf.Signatures
	if len(sigs) == 0 {
		sigs = []bytecode.Signature{{}}
	}

	return &VM{
		heap:         heap.New(0),
		registers:    regs,
		pc:           uint32(entry.Offset),
		entryFuncIdx: uint32(entryFunc),
		code:         buf.Code,
		constants:    buf.Constants,
		strings:      buf.Strings,
		funcs:        buf.Funcs,
		signatures:   sigs,
		staticVars:   make(map[uint16]value.Value),
		staticFuncs:  make(map[uint16]uint16),
		methods:      make(map[methodKey]methodFunc),
		methodCache:  cache,
		fiberIDs:     make(map[value.Handle]string),
		nativeFuncs:  make(map[uint16]func(vm *VM, args []value.Value) (value.Value, error)),
		instrLimit:   instrLimit,
	}, nil
}

// BindNativeFunc registers a Go-implemented function under symID, resolved
// by execCallSym ahead of the bytecode staticFuncs table. fn's signature
// matches internal/ffinative.Func's underlying type exactly (an unnamed
// func type here), so values of that named type convert to it implicitly —
// callers never need an explicit conversion at the call site.
func (vm *VM) BindNativeFunc(symID uint16, fn func(vm *VM, args []value.Value) (value.Value, error)) {
	vm.nativeFuncs[symID] = fn
}

// newFiberID mints a diagnostic id for a just-created fiber, recorded
// against its heap handle; unrelated to scheduling, it exists purely so a
// trace or panic naming "fiber <id>" can be correlated across a coresume
// chain without the handle's reused-on-free numeric value being ambiguous.
func (vm *VM) newFiberID(fiber value.Value) string {
	id := uuid.New().String()
	vm.fiberIDs[fiber.AsHandle()] = id
	return id
}

// FiberID returns the diagnostic id assigned to fiber by its coinit, or
// "" if fiber was never registered (not a fiber, or created before this
// VM existed).
func (vm *VM) FiberID(fiber value.Value) string {
	return vm.fiberIDs[fiber.AsHandle()]
}

// DefaultInstrLimit bounds a Run call absent an explicit internal/config
// value; generous, since Cyber scripts are short-lived, not long-running
// services.
const DefaultInstrLimit = 50_000_000

// MethodCacheSize is the number of (typeID, methodGroupID) -> methodFunc
// bindings the LRU dispatch cache retains.
const MethodCacheSize = 512

// Heap exposes the VM's heap, mainly for tests asserting the refcount
// invariant and for a host embedding the VM to inspect returned values.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// BindMethod registers a native method handler for (typeID, methodGroupID),
// replacing any earlier binding and evicting it from the method cache.
func (vm *VM) BindMethod(typeID uint32, mgID uint16, fn methodFunc) {
	vm.methods[methodKey{typeID, mgID}] = fn
	vm.methodCache.Remove(methodKey{typeID, mgID})
}

// SetFFIInvoker installs the callback execCall uses to run a bound FFI
// function value (internal/ffi's Binder.Invoke): given the heap object's
// stashed native function pointer and signature id, it marshals args,
// crosses into native code, and marshals the result back. A VM never
// depends on internal/ffi directly — keeping the dependency one-directional
// (ffi -> heap/value, vm -> nothing) lets internal/ffi stay an optional,
// late-bound extension rather than a core VM dependency.
func (vm *VM) SetFFIInvoker(fn func(fnPtr uintptr, sigID uint32, args []value.Value) (value.Value, error)) {
	vm.ffiInvoke = fn
}

// BindStaticFunc associates a static/global function symbol id with a
// FuncMeta table index, resolved by callSym.
func (vm *VM) BindStaticFunc(symID uint16, funcIdx uint16) {
	vm.staticFuncs[symID] = funcIdx
}

// Halted reports whether the VM has stopped dispatching instructions.
func (vm *VM) Halted() bool { return vm.halted }

// PC returns the current program counter (byte offset).
func (vm *VM) PC() uint32 { return vm.pc }

// InstructionsUsed returns the number of instructions dispatched so far.
func (vm *VM) InstructionsUsed() uint64 { return vm.instrUsed }

// Run dispatches instructions until the VM halts or an error occurs,
// returning the value register 0 held when the top-level function
// returned.
func (vm *VM) Run() (value.Value, error) {
	for !vm.halted {
		if err := vm.Step(); err != nil {
			return value.None, err
		}
	}
	return vm.getReg(0), nil
}

// Step fetches, decodes, and dispatches exactly one instruction.
func (vm *VM) Step() error {
	if vm.halted {
		return ErrHalted
	}
	vm.instrUsed++
	if vm.instrUsed > vm.instrLimit {
		vm.halted = true
		return ErrOutOfInstructions
	}

	if int(vm.pc)+4 > len(vm.code) {
		return fmt.Errorf("vm: pc %d past end of code (%d bytes)", vm.pc, len(vm.code))
	}
	op := bytecode.Op(vm.code[vm.pc])
	a := vm.code[vm.pc+1]
	c1 := vm.code[vm.pc+2]
	c2 := vm.code[vm.pc+3]
	imm := binary.LittleEndian.Uint16(vm.code[vm.pc+2 : vm.pc+4])
	vm.pc += 4

	err := vm.dispatch(op, a, c1, c2, imm)
	if err != nil {
		if thrown, ok := err.(*thrownError); ok {
			return vm.unwindThrow(thrown)
		}
	}
	return err
}

// thrownError wraps a catchable Cyber-level fault — an explicit `throw` or
// a VM-synthesized built-in panic (panicBuiltin) — so Step can distinguish
// it from a genuine internal Go-level failure that should abort the run
// outright. message and pc mirror §7's "a panic carries a message and a
// PC" for built-in faults; an explicit throw leaves message empty since
// the thrown value itself is the whole payload.
type thrownError struct {
	value   value.Value
	message string
	pc      uint32
}

func (e *thrownError) Error() string {
	if e.message != "" {
		return e.message
	}
	return "vm: thrown value"
}

// panicBuiltin constructs a catchable fault for a VM-internal condition —
// division by zero, an out-of-bounds index, a missing method binding, a
// type-check mismatch — carrying one of the reserved symbol ids above as
// its value, so a catch block can discriminate built-in faults from
// user-level throws the same way it discriminates any other error symbol.
func (vm *VM) panicBuiltin(symID uint32, format string, args ...interface{}) *thrownError {
	return &thrownError{
		value:   value.Error(symID),
		message: fmt.Sprintf(format, args...),
		pc:      vm.pc,
	}
}

// wrapHeapFault turns an internal/heap sentinel error into the same
// catchable panic representation an explicit throw produces, so a
// container fault (out-of-bounds index, a field access against the wrong
// object type) unwinds through try/catch instead of propagating straight
// out of Run (§7, §8). Errors heap never documents as catchable (out of
// memory, a double release — both VM/heap bookkeeping bugs, not script-
// level faults) pass through unchanged.
func (vm *VM) wrapHeapFault(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, heap.ErrOutOfBounds):
		return vm.panicBuiltin(ErrSymIndexOutOfBounds, "%v", err)
	case errors.Is(err, heap.ErrTypeMismatch):
		return vm.panicBuiltin(ErrSymTypeMismatch, "%v", err)
	default:
		return err
	}
}

// runtimeTypeID returns the runtime type id typeCheck/callTypeCheck
// compares a register's actual value against: a heap object's own type id
// (collapsing all three string layouts onto one id, since Cyber source
// sees a single string type), or a scalar Kind's id for anything not
// heap-backed.
func (vm *VM) runtimeTypeID(v value.Value) uint32 {
	if v.IsHeapPointer() {
		typeID, err := vm.heap.TypeID(v)
		if err != nil {
			return bytecode.NoTypeCheck
		}
		switch typeID {
		case heap.TypeIDStringASCII, heap.TypeIDStringUTF8, heap.TypeIDStringRaw:
			return value.StringTypeID
		default:
			return typeID
		}
	}
	return value.ScalarTypeID(v.Kind())
}

// execTypeCheck implements OpTypeCheck(reg, typeId16): raises a panic when
// reg's runtime type doesn't match typeID (§4.D, §8's "wrong static type
// raises a panic").
func (vm *VM) execTypeCheck(reg uint8, typeID uint16) error {
	actual := vm.runtimeTypeID(vm.getReg(reg))
	if actual != uint32(typeID) {
		return vm.panicBuiltin(ErrSymTypeMismatch,
			"type check failed: register %d has runtime type %d, want %d", reg, actual, typeID)
	}
	return nil
}

// execCallTypeCheck implements OpCallTypeCheck(start, sig16) + trailing
// (n,): validates n contiguous registers starting at start against the
// signature table entry sigID, skipping any position the generator left
// as bytecode.NoTypeCheck (no concrete static type at codegen time).
func (vm *VM) execCallTypeCheck(start uint8, sigID uint16) error {
	n := vm.fetchRaw(1)[0]
	if int(sigID) >= len(vm.signatures) {
		return fmt.Errorf("vm: callTypeCheck: signature id %d out of range (%d signatures)", sigID, len(vm.signatures))
	}
	want := vm.signatures[sigID].ParamTypeIDs
	for i := 0; i < int(n) && i < len(want); i++ {
		if want[i] == bytecode.NoTypeCheck {
			continue
		}
		reg := start + uint8(i)
		actual := vm.runtimeTypeID(vm.getReg(reg))
		if actual != want[i] {
			return vm.panicBuiltin(ErrSymTypeMismatch,
				"call type check failed: register %d has runtime type %d, want %d", reg, actual, want[i])
		}
	}
	return nil
}

// unwindThrow pops try frames until one catches thrown, binding its value
// to that frame's error register and resuming at its catch pc; an
// uncaught throw halts the VM and reports ErrUncaught. Every call frame
// popped along the way is discarded outright by the abrupt unwind — its
// own statement-level release opcodes (internal/codegen's
// releaseUnwindTo) never get a chance to run — so unwindThrow releases
// every retained heap reference still live in that frame's param/local/
// temp register window itself before moving on, and does the narrower
// temp-only release for the surviving (non-popped) frame the catch
// resumes in, since that frame's locals are still needed by the catch
// body (§4.D, §8 refcount-balance invariant).
func (vm *VM) unwindThrow(thrown *thrownError) error {
	if len(vm.tryStack) == 0 {
		vm.halted = true
		return fmt.Errorf("%w: %s", ErrUncaught, thrown.Error())
	}
	top := vm.tryStack[len(vm.tryStack)-1]
	vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]
	for len(vm.callStack) > top.callDepth {
		cf := vm.callStack[len(vm.callStack)-1]
		vm.releaseWindow(paramOffConst, vm.funcs[cf.funcIdx].StackSize)
		vm.popFrame()
	}
	if fn := vm.survivingFuncMeta(top.callDepth); fn != nil {
		vm.releaseWindow(fn.TempStart, fn.StackSize)
	}
	vm.fp = top.fp
	vm.setReg(top.errReg, thrown.value)
	vm.pc = top.catchPC
	return nil
}

// survivingFuncMeta returns the FuncMeta of the frame that remains active
// once unwindThrow has popped everything above callDepth — the function
// whose try/catch is about to handle the fault. callDepth 0 means the
// top-level entry function, which has no callFrame entry of its own.
func (vm *VM) survivingFuncMeta(callDepth int) *bytecode.FuncMeta {
	if callDepth == 0 {
		return &vm.funcs[vm.entryFuncIdx]
	}
	return &vm.funcs[vm.callStack[callDepth-1].funcIdx]
}

// releaseWindow drops every retained heap reference held in the current
// frame's registers [from, to), guarded by IsHeapPointer so an
// uninitialized or scalar register (Value's Go zero value decodes as
// KindFloat 0.0, never a pointer) is safely skipped.
func (vm *VM) releaseWindow(from, to int) {
	for r := from; r < to; r++ {
		reg := vm.getReg(uint8(r))
		if reg.IsHeapPointer() {
			vm.heap.Release(reg)
		}
	}
}

func (vm *VM) popFrame() {
	f := vm.callStack[len(vm.callStack)-1]
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	vm.fp = f.oldFP
	vm.pc = f.returnPC
}

// ensureReg grows the register file so index idx is addressable.
func (vm *VM) ensureReg(idx uint32) {
	if int(idx) < len(vm.registers) {
		return
	}
	grown := make([]value.Value, idx+32)
	copy(grown, vm.registers)
	vm.registers = grown
}

func (vm *VM) getReg(r uint8) value.Value {
	idx := vm.fp + uint32(r)
	vm.ensureReg(idx)
	return vm.registers[idx]
}

func (vm *VM) setReg(r uint8, v value.Value) {
	idx := vm.fp + uint32(r)
	vm.ensureReg(idx)
	vm.registers[idx] = v
}

func (vm *VM) constAt(idx uint16) value.Value {
	return value.FromBits(vm.constants[idx])
}

func (vm *VM) releaseReg(r uint8) {
	v := vm.getReg(r)
	_ = vm.heap.Release(v)
}
