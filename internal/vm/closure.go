// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"fmt"

	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/heap"
	"github.com/probechain/cyber-lang/internal/value"
)

// ---- Boxes (lifted locals captured by a nested lambda) ---------------------
//
// internal/heap has no dedicated box body type; a box is represented as a
// one-element list (heap.TypeIDList), reusing ListGet/ListSet rather than
// adding a new heap Kind for a single extra indirection.

func (vm *VM) execBox(src, dst uint8, retain bool) error {
	v := vm.getReg(src)
	if retain {
		vm.heap.Retain(v)
	}
	box, err := vm.heap.NewList(heap.TypeIDList, []value.Value{v})
	if err != nil {
		return err
	}
	vm.setReg(dst, box)
	return nil
}

func (vm *VM) execBoxValue(boxReg, dst uint8) error {
	v, err := vm.heap.ListGet(vm.getReg(boxReg), 0)
	if err != nil {
		return err
	}
	vm.setReg(dst, v)
	return nil
}

func (vm *VM) execBoxValueRetain(boxReg, dst uint8) error {
	v, err := vm.heap.ListGet(vm.getReg(boxReg), 0)
	if err != nil {
		return err
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

func (vm *VM) execSetBoxValue(boxReg, srcReg uint8, _ bool) error {
	return vm.heap.ListSet(vm.getReg(boxReg), 0, vm.getReg(srcReg))
}

// ---- Lambdas / closures -----------------------------------------------------

// execLambda implements OpLambda(dst, funcIdx16) + trailing (nparams,): a
// captureless function value is just its FuncMeta table index boxed as a
// KindInteger, resolved back to a code offset by resolveCallee.
func (vm *VM) execLambda(dst uint8, funcIdx uint16) error {
	vm.fetchRaw(1) // nparams, informational only at this VM's dispatch layer
	vm.setReg(dst, value.Int(int64(funcIdx)))
	return nil
}

// execClosure implements OpClosure(dst, funcIdx16) + trailing (nparams, ncaps,
// capRegs...): the capture source registers are read out of the *current*
// frame (the enclosing function being generated when genLambda ran) and
// copied into a new heap.KindClosure object's upvalue slots.
func (vm *VM) execClosure(dst uint8, funcIdx uint16) error {
	hdr := vm.fetchRaw(2)
	ncaps := int(hdr[1])
	capRegs := vm.fetchRaw(ncaps)

	if int(funcIdx) >= len(vm.funcs) {
		return fmt.Errorf("vm: closure over out-of-range function index %d", funcIdx)
	}
	ups := make([]value.Value, ncaps)
	for i, r := range capRegs {
		v := vm.getReg(r)
		vm.heap.Retain(v)
		ups[i] = v
	}
	closure, err := vm.heap.NewClosure(heap.TypeIDClosure, uint32(vm.funcs[funcIdx].Offset), ups)
	if err != nil {
		return err
	}
	vm.setReg(dst, closure)
	return nil
}

// execCaptured implements OpCaptured(closureReg, idx, dst): closureReg is
// always the calleeOff register (internal/codegen hardcodes it there; a
// function body reads its own running closure out of its callee slot, not
// a freestanding "closure register"). An upvalue is always the box object
// for the lifted local it closed over (never the raw value directly), so
// every two or more closures sharing a capture observe the same mutations
// — reading one unboxes, via the same list-backed box ListGet/ListSet
// internal/codegen's boxedLocal destination writes through.
func (vm *VM) execCaptured(closureReg, idx, dst uint8) error {
	box, err := vm.heap.ClosureUpvalue(vm.getReg(closureReg), int(idx))
	if err != nil {
		return err
	}
	v, err := vm.heap.ListGet(box, 0)
	if err != nil {
		return err
	}
	vm.heap.Retain(v)
	vm.setReg(dst, v)
	return nil
}

// execSetCaptured writes through the upvalue's box rather than replacing
// the closure's upvalue slot itself, so every closure sharing this capture
// (including the enclosing function's own lifted local, whose register
// holds the same box) observes the write.
func (vm *VM) execSetCaptured(closureReg, idx, src uint8) error {
	box, err := vm.heap.ClosureUpvalue(vm.getReg(closureReg), int(idx))
	if err != nil {
		return err
	}
	return vm.heap.ListSet(box, 0, vm.getReg(src))
}

// ---- Coroutines (fibers) ----------------------------------------------------

// execCoinit implements OpCoinit(start, ntotal) + trailing (dst,
// stackSize): start..start+ntotal-1 holds the callee value followed by its
// positional args, exactly the layout a normal call's calleeOff/paramOff
// region would have — so a freshly allocated fiber's register file is
// seeded the same way a pushCall would seed the current one, just into a
// suspended frame instead of the live one.
func (vm *VM) execCoinit(start uint8, ntotal uint16) error {
	trailer := vm.fetchRaw(2)
	dst, stackSize := trailer[0], trailer[1]

	calleeVal := vm.getReg(start)
	funcIdx, err := vm.resolveCallee(calleeVal)
	if err != nil {
		return err
	}
	if int(funcIdx) >= len(vm.funcs) {
		return fmt.Errorf("vm: coinit over out-of-range function index %d", funcIdx)
	}

	fiber, err := vm.heap.NewFiber(heap.TypeIDFiber, int(stackSize))
	if err != nil {
		return err
	}
	regs, err := vm.heap.FiberRegisters(fiber)
	if err != nil {
		return err
	}
	for i := 0; i < int(ntotal); i++ {
		v := vm.getReg(start + uint8(i))
		vm.heap.Retain(v)
		regs[calleeOffConst+i] = v
	}
	if err := vm.heap.SetFiberPC(fiber, uint32(vm.funcs[funcIdx].Offset)); err != nil {
		return err
	}
	if err := vm.heap.SetFiberStatus(fiber, heap.FiberSuspended); err != nil {
		return err
	}
	vm.newFiberID(fiber)
	vm.setReg(dst, fiber)
	return nil
}

// calleeOffConst mirrors internal/codegen's calleeOff constant; duplicated
// here rather than imported since internal/codegen is a build-time-only
// dependency of the VM's test fixtures, never a runtime one.
const calleeOffConst = 4

// execCoresume implements OpCoresume(fiberReg, dst): it swaps the VM's
// live register window/pc for the fiber's saved ones, runs a nested Step
// loop until the fiber yields or returns, then restores the caller's own
// window — since a fiber's registers are a separate slice owned by its
// heap object, not a sub-range of the main register file.
func (vm *VM) execCoresume(fiberReg, dst uint8) error {
	fiber := vm.getReg(fiberReg)
	status, err := vm.heap.FiberStatus(fiber)
	if err != nil {
		return err
	}
	if status == heap.FiberDone {
		vm.setReg(dst, value.None)
		return nil
	}

	savedRegs, savedFP, savedPC := vm.registers, vm.fp, vm.pc
	savedCallStack, savedTryStack := vm.callStack, vm.tryStack

	regs, err := vm.heap.FiberRegisters(fiber)
	if err != nil {
		return err
	}
	pc, err := vm.heap.FiberPC(fiber)
	if err != nil {
		return err
	}
	vm.registers, vm.fp, vm.pc = regs, 0, pc
	vm.callStack, vm.tryStack = nil, nil
	if err := vm.heap.SetFiberStatus(fiber, heap.FiberRunning); err != nil {
		return err
	}

	yielded := false
	var yieldVal value.Value
	for !vm.halted && !yielded {
		if bytecode.Op(opAt(vm.code, vm.pc)) == bytecode.OpCoyield {
			yielded = true
			break
		}
		if err := vm.Step(); err != nil {
			vm.registers, vm.fp, vm.pc = savedRegs, savedFP, savedPC
			vm.callStack, vm.tryStack = savedCallStack, savedTryStack
			return err
		}
	}
	if yielded {
		yieldVal = vm.getReg(0)
		vm.pc += 4 // skip past the coyield instruction itself
	}

	if err := vm.heap.SetFiberPC(fiber, vm.pc); err != nil {
		return err
	}
	finalStatus := heap.FiberSuspended
	if vm.halted {
		finalStatus = heap.FiberDone
	}
	vm.registers, vm.fp, vm.pc = savedRegs, savedFP, savedPC
	vm.callStack, vm.tryStack = savedCallStack, savedTryStack
	vm.halted = false
	if err := vm.heap.SetFiberStatus(fiber, finalStatus); err != nil {
		return err
	}

	if yielded {
		vm.setReg(dst, yieldVal)
	} else {
		vm.setReg(dst, value.None)
	}
	return nil
}

// opAt peeks at the opcode byte at pc without advancing, so coresume's
// drive loop can recognize a yield point before Step consumes it.
func opAt(code []byte, pc uint32) byte {
	if int(pc) >= len(code) {
		return 0xFF
	}
	return code[pc]
}

func (vm *VM) execCoyield(lo, hi uint8) error {
	// Coresume's drive loop intercepts coyield before Step ever reaches
	// here when running a fiber; a coyield reached directly (top-level
	// fiber body executed via Run, not Coresume) has no resumer to hand
	// the value to and simply halts.
	vm.setReg(0, vm.getReg(lo))
	vm.halted = true
	return nil
}

func (vm *VM) execCoreturn() error {
	vm.halted = true
	return nil
}
