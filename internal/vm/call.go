// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"fmt"

	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

// resolveCallee maps a callee value to a function-table index, branching on
// its Kind since internal/value has no dedicated function tag: a direct
// function reference is a KindInteger-boxed FuncMeta index (OpStaticFunc),
// while a captured lambda is a KindPointer to a heap closure object whose
// own funcPC field names the entry.
func (vm *VM) resolveCallee(callee value.Value) (funcIdx uint32, err error) {
	switch callee.Kind() {
	case value.KindInteger:
		return uint32(callee.AsInt()), nil
	case value.KindPointer:
		pc, err := vm.heap.ClosureFuncPC(callee)
		if err != nil {
			return 0, err
		}
		return vm.funcIdxForOffset(pc), nil
	default:
		return 0, fmt.Errorf("vm: value of kind %v is not callable", callee.Kind())
	}
}

// funcIdxForOffset maps a code offset back to its FuncMeta table index; a
// closure stores its body's starting pc rather than its table index
// because it is built directly from genLambda's FuncMeta idx at codegen
// time and decoded back here at dispatch time.
func (vm *VM) funcIdxForOffset(pc uint32) uint32 {
	for i, fn := range vm.funcs {
		if uint32(fn.Offset) == pc {
			return uint32(i)
		}
	}
	return 0
}

// execCall implements OpCall(retSlot, nargs, nret): the callee value and
// its positional args already sit, contiguously, at
// fp+retSlot+calleeOff..fp+retSlot+calleeOff+nargs (codegen's call
// convention guarantees this placement; see internal/codegen's
// genCall/genCallSym/genCallObjSym). Pushing the new frame is therefore
// just a frame-pointer shift, not a register copy.
func (vm *VM) execCall(retSlot, nargs, nret uint8) error {
	calleeOff := uint32(4)
	argOff := calleeOff + 1
	calleeVal := vm.registers[vm.fp+uint32(retSlot)+calleeOff]

	if calleeVal.Kind() == value.KindPointer {
		if typeID, err := vm.heap.TypeID(calleeVal); err == nil && typeID == heap.TypeIDBoundFunction {
			return vm.execCallBoundFunction(calleeVal, retSlot, nargs, argOff)
		}
	}

	idx, err := vm.resolveCallee(calleeVal)
	if err != nil {
		return err
	}
	return vm.pushCall(idx, retSlot)
}

// execCallBoundFunction runs an FFI-bound callable (internal/ffi) in place
// of pushing a bytecode frame: it never touches callStack/fp, so it behaves
// to its caller exactly like execCallSym's native-function fast path (§4.E,
// §6's native ABI contract) even though it arrived through a register-held
// value rather than a static symbol id.
func (vm *VM) execCallBoundFunction(callee value.Value, retSlot, nargs uint8, argOff uint32) error {
	if vm.ffiInvoke == nil {
		return fmt.Errorf("vm: bound function called with no FFI invoker installed")
	}
	fnPtr, sigID, err := vm.heap.BoundFunctionPtr(callee)
	if err != nil {
		return err
	}
	args := make([]value.Value, nargs)
	for i := range args {
		args[i] = vm.registers[vm.fp+uint32(retSlot)+argOff+uint32(i)]
	}
	result, err := vm.ffiInvoke(fnPtr, sigID, args)
	if err != nil {
		return err
	}
	vm.setReg(retSlot, result)
	return nil
}

// execCallSym implements OpCallSym(ret, symId16) + trailing (nargs, nret):
// the callee is resolved statically from the symbol table rather than read
// out of a register. A symbol bound via BindNativeFunc (internal/ffinative,
// internal/ffi, stdlib/mathx) runs synchronously in Go instead of pushing a
// bytecode frame; it reads its args from the same paramOff window genCallSym
// lays out for a bytecode callee (the reserved callee slot stays unused).
func (vm *VM) execCallSym(retSlot uint8, symID uint16, _ uint8) error {
	trailer := vm.fetchRaw(2)
	nargs := int(trailer[0])
	if fn, ok := vm.nativeFuncs[symID]; ok {
		args := make([]value.Value, nargs)
		for i := range args {
			args[i] = vm.getReg(retSlot + uint8(paramOffConst) + uint8(i))
		}
		result, err := fn(vm, args)
		if err != nil {
			return err
		}
		vm.setReg(retSlot, result)
		return nil
	}
	idx, ok := vm.staticFuncs[symID]
	if !ok {
		return fmt.Errorf("vm: call to unresolved function symbol %d", symID)
	}
	return vm.pushCall(uint32(idx), retSlot)
}

// paramOffConst mirrors internal/codegen's paramOff constant (calleeOff+1):
// genCallSym reserves a callee slot even for a symbol call so a native
// function's argument window lines up with a bytecode function's.
const paramOffConst = 5

// CallValue invokes callee (a lambda's funcIdx-as-int or a heap closure)
// re-entrantly from Go, the way execCoresume swaps in a fiber's register
// window: save this frame's full execution state, splice in a fresh
// window seeded with callee+args at the calleeOff/paramOff convention,
// drive Step until that single call returns to the saved call-stack
// depth, then restore. Used by native functions (stdlib/mathx's map/
// filter/reduce/zip) that must invoke a Cyber-level callback argument.
func (vm *VM) CallValue(callee value.Value, args []value.Value) (value.Value, error) {
	funcIdx, err := vm.resolveCallee(callee)
	if err != nil {
		return value.None, err
	}
	if int(funcIdx) >= len(vm.funcs) {
		return value.None, fmt.Errorf("vm: call to out-of-range function index %d", funcIdx)
	}

	savedRegs, savedFP, savedPC := vm.registers, vm.fp, vm.pc
	savedCallStack, savedTryStack := vm.callStack, vm.tryStack
	savedHalted := vm.halted
	savedEntryFuncIdx := vm.entryFuncIdx

	window := make([]value.Value, calleeOffConst+1+len(args))
	window[calleeOffConst] = callee
	for i, a := range args {
		window[calleeOffConst+1+i] = a
	}
	vm.registers = window
	vm.fp = 0
	vm.pc = uint32(vm.funcs[funcIdx].Offset)
	vm.callStack = nil
	vm.tryStack = nil
	vm.halted = false
	vm.entryFuncIdx = funcIdx

	// execReturn halts the VM as soon as this freshly emptied call stack
	// pops its last frame, exactly as it would for a top-level Run — so
	// driving Step to halted is sufficient, with no depth bookkeeping.
	for !vm.halted {
		if err := vm.Step(); err != nil {
			vm.registers, vm.fp, vm.pc = savedRegs, savedFP, savedPC
			vm.callStack, vm.tryStack = savedCallStack, savedTryStack
			vm.halted = savedHalted
			vm.entryFuncIdx = savedEntryFuncIdx
			return value.None, err
		}
	}
	result := vm.getReg(0)

	vm.registers, vm.fp, vm.pc = savedRegs, savedFP, savedPC
	vm.callStack, vm.tryStack = savedCallStack, savedTryStack
	vm.halted = savedHalted
	vm.entryFuncIdx = savedEntryFuncIdx
	return result, nil
}

// execCallObjSym implements OpCallObjSym(ret, mgid) + trailing
// (argc+1,) for plain calls, or more generally the receiver-dispatched
// variants used by PreCallObjSym*/SetCallObjSymTern/forIter's
// iterator()/next() protocol calls. Method resolution consults the LRU
// cache keyed on (receiver type, method-group id) before falling back to
// the full vm.methods table, mirroring how a polymorphic call site in a
// loop body stays on the fast path once warmed.
func (vm *VM) execCallObjSym(retSlot uint8, mgID uint16, _ uint8) error {
	argc := vm.fetchRaw(1)[0]
	nargs := int(argc)
	if nargs < 1 {
		return fmt.Errorf("vm: callObjSym with no receiver operand")
	}
	recv := vm.registers[vm.fp+uint32(retSlot)+4]
	args := make([]value.Value, nargs-1)
	for i := range args {
		args[i] = vm.registers[vm.fp+uint32(retSlot)+4+uint32(i)+1]
	}

	// Not every receiver is heap-backed (e.g. an int or bool); scalar
	// receivers look up their methods under value.ScalarTypeID of their Kind.
	typeID := value.ScalarTypeID(recv.Kind())
	if recv.IsHeapPointer() {
		if tid, err := vm.heap.TypeID(recv); err == nil {
			typeID = tid
		}
	}
	fn, err := vm.lookupMethod(typeID, mgID)
	if err != nil {
		return err
	}
	result, err := fn(vm, recv, args)
	if err != nil {
		return err
	}
	vm.setReg(retSlot, result)
	return nil
}

func (vm *VM) lookupMethod(typeID uint32, mgID uint16) (methodFunc, error) {
	key := methodKey{typeID, mgID}
	if cached, ok := vm.methodCache.Get(key); ok {
		return cached.(methodFunc), nil
	}
	fn, ok := vm.methods[key]
	if !ok {
		return nil, vm.panicBuiltin(ErrSymNoSuchMethod, "%v: type %d method-group %d", ErrNoSuchMethod, typeID, mgID)
	}
	vm.methodCache.Add(key, fn)
	return fn, nil
}

// pushCall shifts the frame pointer by retSlot (so the callee's own
// calleeOff/paramOff registers line up with where the caller already wrote
// them) and jumps to the target function's entry.
func (vm *VM) pushCall(funcIdx uint32, retSlot uint8) error {
	if int(funcIdx) >= len(vm.funcs) {
		return fmt.Errorf("vm: call to out-of-range function index %d", funcIdx)
	}
	newFP := vm.fp + uint32(retSlot)
	vm.ensureReg(newFP + uint32(vm.funcs[funcIdx].StackSize))
	vm.callStack = append(vm.callStack, callFrame{
		returnPC: vm.pc,
		retReg:   retSlot,
		oldFP:    vm.fp,
		funcIdx:  funcIdx,
	})
	vm.fp = newFP
	vm.pc = uint32(vm.funcs[funcIdx].Offset)
	return nil
}

// execReturn implements ret0/ret1: a function's return value (when
// present) is always generated into register 0 of its own frame
// (codegen's RetExprStmt uses exact(0)), which after a pushCall shift of
// retSlot is numerically the same absolute register the caller reserved
// as its call's ret slot — so returning needs no value copy, only
// restoring pc/fp.
func (vm *VM) execReturn(hasValue bool) error {
	if !hasValue {
		vm.setReg(0, value.None)
	}
	if len(vm.callStack) == 0 {
		vm.halted = true
		return nil
	}
	vm.popFrame()
	return nil
}
