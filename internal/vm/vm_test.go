// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm_test

import (
	"errors"
	"testing"

	"github.com/probechain/cyber-lang/internal/codegen"
	"github.com/probechain/cyber-lang/internal/ir"
	"github.com/probechain/cyber-lang/internal/value"
	"github.com/probechain/cyber-lang/internal/vm"
)

// run compiles b's tree as a main program and executes it to completion,
// failing the test on any codegen or execution error.
func run(t *testing.T, b *ir.Builder) (value.Value, *vm.VM) {
	t.Helper()
	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	if errs := codegen.Verify(buf); len(errs) != 0 {
		t.Fatalf("Verify reported errors: %v", errs)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result, m
}

// Non-commutative arithmetic is the clearest probe for a dst/operand
// register-order regression: a swapped encoding flips the sign/value
// rather than merely producing a type error.
func TestArithmeticOperandOrder(t *testing.T) {
	b := ir.NewBuilder()
	ten := b.Int(0, 10)
	three := b.Int(0, 3)
	sub := b.PreBinOp(0, ir.BinSub, ten, three)
	ret := b.RetExpr(0, sub)
	b.MainBlock(0, []ir.NodeID{ret})

	result, _ := run(t, &b)
	if result.AsInt() != 7 {
		t.Fatalf("10 - 3 = %d, want 7", result.AsInt())
	}
}

func TestDivisionOperandOrder(t *testing.T) {
	b := ir.NewBuilder()
	twenty := b.Int(0, 20)
	four := b.Int(0, 4)
	div := b.PreBinOp(0, ir.BinDiv, twenty, four)
	ret := b.RetExpr(0, div)
	b.MainBlock(0, []ir.NodeID{ret})

	result, _ := run(t, &b)
	if result.AsInt() != 5 {
		t.Fatalf("20 / 4 = %d, want 5", result.AsInt())
	}
}

func TestUnaryNegOperandOrder(t *testing.T) {
	b := ir.NewBuilder()
	five := b.Int(0, 5)
	neg := b.PreUnOp(0, ir.UnNeg, five)
	ret := b.RetExpr(0, neg)
	b.MainBlock(0, []ir.NodeID{ret})

	result, _ := run(t, &b)
	if result.AsInt() != -5 {
		t.Fatalf("-5 = %d, want -5", result.AsInt())
	}
}

func TestBitShiftOperandOrder(t *testing.T) {
	b := ir.NewBuilder()
	one := b.Int(0, 1)
	three := b.Int(0, 3)
	shl := b.PreBinOp(0, ir.BinShl, one, three)
	ret := b.RetExpr(0, shl)
	b.MainBlock(0, []ir.NodeID{ret})

	result, _ := run(t, &b)
	if result.AsInt() != 8 {
		t.Fatalf("1 << 3 = %d, want 8", result.AsInt())
	}
}

func TestDeclareAndReadLocal(t *testing.T) {
	b := ir.NewBuilder()
	lit := b.Int(0, 99)
	decl := b.DeclareLocal(0, 0, lit, true, false)
	local := b.Local(0, ir.TypeAny, 0)
	ret := b.RetExpr(0, local)
	b.MainBlock(0, []ir.NodeID{decl, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 99 {
		t.Fatalf("local readback = %d, want 99", result.AsInt())
	}
}

func TestIfStmtTakesMatchingBranch(t *testing.T) {
	b := ir.NewBuilder()
	cond := b.False(0)
	thenRet := b.RetExpr(0, b.Int(0, 1))
	elseRet := b.RetExpr(0, b.Int(0, 2))
	ifStmt := b.If(0, []ir.IfCase{
		{Cond: cond, Body: []ir.NodeID{thenRet}},
		{Body: []ir.NodeID{elseRet}},
	})
	b.MainBlock(0, []ir.NodeID{ifStmt})

	result, _ := run(t, &b)
	if result.AsInt() != 2 {
		t.Fatalf("false cond took then-branch, got %d, want 2", result.AsInt())
	}
}

// TestWhileLoopCompoundAssign sums 1..5 via a while loop and an OpSet
// (+=), exercising the same binOpToOpcode dst/left/right convention the
// arithmetic opcodes use directly.
func TestWhileLoopCompoundAssign(t *testing.T) {
	b := ir.NewBuilder()
	zero := b.Int(0, 0)
	sumDecl := b.DeclareLocal(0, 0, zero, true, false)
	oneLit := b.Int(0, 1)
	iDecl := b.DeclareLocal(0, 1, oneLit, true, false)

	condLt := b.PreBinOp(0, ir.BinLte, b.Local(0, ir.TypeAny, 1), b.Int(0, 5))
	addSum := b.OpSet(0, 0, ir.BinAdd, b.Local(0, ir.TypeAny, 1))
	incI := b.OpSet(0, 1, ir.BinAdd, b.Int(0, 1))
	loop := b.WhileCond(0, condLt, []ir.NodeID{addSum, incI})

	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{sumDecl, iDecl, loop, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 15 {
		t.Fatalf("sum 1..5 = %d, want 15", result.AsInt())
	}
}

func TestForRangeLoopAccumulates(t *testing.T) {
	b := ir.NewBuilder()
	zero := b.Int(0, 0)
	sumDecl := b.DeclareLocal(0, 0, zero, true, false)
	addSum := b.OpSet(0, 0, ir.BinAdd, b.Local(0, ir.TypeAny, 1))
	loop := b.ForRange(0, b.Int(0, 0), b.Int(0, 4), b.Int(0, 1), 1, []ir.NodeID{addSum})
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{sumDecl, loop, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 6 {
		t.Fatalf("sum of [0,4) = %d, want 6", result.AsInt())
	}
}

// TestCallSymRoundTrip builds a standalone function doubling its one
// parameter and invokes it by symbol, exercising pushCall's frame-pointer
// shift and execReturn's register-0 return convention.
func TestCallSymRoundTrip(t *testing.T) {
	b := ir.NewBuilder()

	doubleBody := []ir.NodeID{
		b.RetExpr(0, b.PreBinOp(0, ir.BinMul, b.Local(0, ir.TypeAny, 0), b.Int(0, 2))),
	}
	doubleFn := b.FuncBlock(0, "double", 1, nil, doubleBody)

	call := b.PreCallFuncSym(0, 1, []ir.NodeID{b.Int(0, 21)})
	ret := b.RetExpr(0, call)
	b.MainBlock(0, []ir.NodeID{ret})

	gen := codegen.New(b.Tree())
	fnIdx, err := gen.GenerateFunc(doubleFn)
	if err != nil {
		t.Fatalf("GenerateFunc failed: %v", err)
	}
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	if errs := codegen.Verify(buf); len(errs) != 0 {
		t.Fatalf("Verify reported errors: %v", errs)
	}

	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindStaticFunc(1, fnIdx)

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("double(21) = %d, want 42", result.AsInt())
	}
}

// TestClosureCapturesLocal builds a lambda capturing an outer local and
// calls it, exercising genClosure's captured-upvalue box and OpCaptured's
// register decode.
func TestClosureCapturesLocal(t *testing.T) {
	b := ir.NewBuilder()
	outerDecl := b.DeclareLocal(0, 0, b.Int(0, 10), true, true)

	lamBody := []ir.NodeID{
		b.RetExpr(0, b.PreBinOp(0, ir.BinAdd, b.Captured(0, ir.TypeAny, 0), b.Int(0, 5))),
	}
	lam := b.Lambda(0, 0, []int{0}, []bool{false}, lamBody)
	lamDecl := b.DeclareLocal(0, 1, lam, true, false)

	call := b.PreCall(0, b.Local(0, ir.TypeAny, 1), nil)
	ret := b.RetExpr(0, call)
	b.MainBlock(0, []ir.NodeID{outerDecl, lamDecl, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 15 {
		t.Fatalf("closure(captured=10)+5 = %d, want 15", result.AsInt())
	}
}

// testTypeVec2 and testTypeRange are spare object type ids; the BindMethod
// calls below use the ObjectInit type ids 100 and 200 directly. A
// value.KindPointer receiver is resolved through the heap's TypeID lookup,
// so any distinct object-backed typeID will do.
const (
	testTypeVec2  uint32 = 9001
	testTypeRange uint32 = 9002
)

// TestOperatorOverloadBinOp dispatches through PreCallObjSymBinOp, the
// OpCallObjSym call site that once encoded its receiver directly in `a`
// with a divergent trailer; this confirms genCallObjSym's unified
// contiguous-register convention round-trips receiver and right operand
// in the expected order.
func TestOperatorOverloadBinOp(t *testing.T) {
	b := ir.NewBuilder()
	recv := b.ObjectInit(0, 100, []ir.NodeID{b.Int(0, 7)})
	right := b.Int(0, 35)
	callBin := b.PreCallObjSymBinOp(0, recv, ir.BinAdd, 0, right)
	ret := b.RetExpr(0, callBin)
	b.MainBlock(0, []ir.NodeID{ret})

	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindMethod(100, 0, func(vm *vm.VM, recv value.Value, args []value.Value) (value.Value, error) {
		recvField, err := vm.Heap().ObjectField(recv, 0)
		if err != nil {
			return value.None, err
		}
		return value.Int(recvField.AsInt() + args[0].AsInt()), nil
	})

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != 42 {
		t.Fatalf("recv.field(7) + 35 = %d, want 42", result.AsInt())
	}
}

// TestOperatorOverloadUnOp exercises PreCallObjSymUnOp's single-receiver,
// no-args OpCallObjSym encoding.
func TestOperatorOverloadUnOp(t *testing.T) {
	b := ir.NewBuilder()
	recv := b.ObjectInit(0, 100, []ir.NodeID{b.Int(0, 7)})
	callUn := b.PreCallObjSymUnOp(0, recv, ir.UnNeg, 1)
	ret := b.RetExpr(0, callUn)
	b.MainBlock(0, []ir.NodeID{ret})

	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindMethod(100, 1, func(vm *vm.VM, recv value.Value, args []value.Value) (value.Value, error) {
		recvField, err := vm.Heap().ObjectField(recv, 0)
		if err != nil {
			return value.None, err
		}
		return value.Int(-recvField.AsInt()), nil
	})

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != -7 {
		t.Fatalf("-recv.field = %d, want -7", result.AsInt())
	}
}

// TestSetCallObjSymTern exercises the `?.`-style ternary-set call site,
// unified onto genCallObjSym after this session's fix.
func TestSetCallObjSymTern(t *testing.T) {
	b := ir.NewBuilder()
	recv := b.ObjectInit(0, 100, []ir.NodeID{b.Int(0, 1)})
	recvDecl := b.DeclareLocal(0, 0, recv, true, false)
	sumDecl := b.DeclareLocal(0, 1, b.Int(0, 0), true, false)

	tern := b.SetCallObjSymTern(0, b.Local(0, ir.TypeAny, 0), 2, nil, b.Int(0, 41))
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 1))
	b.MainBlock(0, []ir.NodeID{recvDecl, sumDecl, tern, ret})

	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	var seenRight int64 = -1
	m.BindMethod(100, 2, func(vm *vm.VM, recv value.Value, args []value.Value) (value.Value, error) {
		seenRight = args[0].AsInt()
		return value.None, nil
	})

	if _, err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if seenRight != 41 {
		t.Fatalf("ternary-set call saw right=%d, want 41", seenRight)
	}
}

// TestForIterProtocol is the single most important regression test for
// this session's OpCallObjSym unification: genForIter's iterator()/next()
// calls used to hand-roll their own encoding with no reserved register
// window, incompatible with execCallObjSym's fixed decode. An object with a
// bound iterator type now drives the loop through genCallObjSymFromReg.
func TestForIterProtocol(t *testing.T) {
	b := ir.NewBuilder()
	iterableExpr := b.ObjectInit(0, 200, nil)
	sumDecl := b.DeclareLocal(0, 0, b.Int(0, 0), true, false)
	addEach := b.OpSet(0, 0, ir.BinAdd, b.Local(0, ir.TypeAny, 1))
	loop := b.ForIter(0, iterableExpr, 1, -1, []ir.NodeID{addEach})
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{sumDecl, loop, ret})

	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}

	m.BindMethod(200, 0, func(vm *vm.VM, recv value.Value, args []value.Value) (value.Value, error) {
		return recv, nil // the object itself doubles as its own iterator state
	})
	remaining := []int64{1, 2, 3, 4}
	m.BindMethod(200, 1, func(vm *vm.VM, recv value.Value, args []value.Value) (value.Value, error) {
		if len(remaining) == 0 {
			return value.None, nil
		}
		next := remaining[0]
		remaining = remaining[1:]
		return value.Int(next), nil
	})

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != 10 {
		t.Fatalf("sum of iterated values = %d, want 10", result.AsInt())
	}
}

func TestTryThrowCatchBindsErrRegister(t *testing.T) {
	b := ir.NewBuilder()
	thrown := b.Throw(0, b.Int(0, 77))
	tryStmt := b.Try(0, []ir.NodeID{b.ExprStmt(0, thrown)}, 0, nil)
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{tryStmt, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 77 {
		t.Fatalf("caught error register = %d, want 77", result.AsInt())
	}
}

func TestRetainReleaseLeavesOnlyOwnedLocalLive(t *testing.T) {
	b := ir.NewBuilder()
	list := b.List(0, []ir.NodeID{b.Int(0, 1), b.Int(0, 2), b.Int(0, 3)})
	decl := b.DeclareLocal(0, 0, list, true, false)
	ret := b.Ret(0)
	b.MainBlock(0, []ir.NodeID{decl, ret})

	_, m := run(t, &b)
	if live := m.Heap().Live(); live != 1 {
		t.Fatalf("heap has %d live objects after fall-through return, want 1 (the still-owned local)", live)
	}
}

// TestDivisionByZeroCaughtByTry exercises the built-in-fault panic path
// (panicBuiltin/wrapHeapFault): a bare int division by zero used to
// propagate straight out of Run as a plain Go error, bypassing any pushed
// try frame entirely. It must now unwind exactly like an explicit throw,
// landing in the catch body with its error register bound.
func TestDivisionByZeroCaughtByTry(t *testing.T) {
	b := ir.NewBuilder()
	slotDecl := b.DeclareLocal(0, 0, b.Int(0, 0), true, false)
	div := b.PreBinOp(0, ir.BinDiv, b.Int(0, 1), b.Int(0, 0))
	tryStmt := b.Try(0, []ir.NodeID{b.ExprStmt(0, div)}, 0, []ir.NodeID{
		b.SetLocal(0, 0, b.Int(0, 7)),
	})
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{slotDecl, tryStmt, ret})

	result, _ := run(t, &b)
	if result.AsInt() != 7 {
		t.Fatalf("division-by-zero panic did not reach the catch body, got %d, want 7", result.AsInt())
	}
}

// TestUncaughtDivisionByZeroReportsErrUncaught confirms a division-by-zero
// panic with no enclosing try still halts the run and reports ErrUncaught,
// the same outcome an explicit uncaught throw produces, rather than a bare
// vm.ErrDivisionByZero escaping Run directly.
func TestUncaughtDivisionByZeroReportsErrUncaught(t *testing.T) {
	b := ir.NewBuilder()
	div := b.PreBinOp(0, ir.BinDiv, b.Int(0, 1), b.Int(0, 0))
	ret := b.RetExpr(0, div)
	b.MainBlock(0, []ir.NodeID{ret})

	gen := codegen.New(b.Tree())
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	_, err = m.Run()
	if err == nil {
		t.Fatalf("expected an uncaught division-by-zero panic, got nil error")
	}
	if !errors.Is(err, vm.ErrUncaught) {
		t.Fatalf("Run error = %v, want it to wrap vm.ErrUncaught", err)
	}
}

// TestCallTypeCheckRaisesOnMismatch builds a call site whose argument node
// is annotated with a static type (ir.TypeInt) that disagrees with the
// value actually sitting in that register at call time (a string), the way
// a miscompiled or unsound static type judgment would. genOperandTypeChecks
// must have emitted an OpTypeCheck ahead of the call, and it must raise a
// panic rather than let the call run against a value of the wrong type.
func TestCallTypeCheckRaisesOnMismatch(t *testing.T) {
	b := ir.NewBuilder()
	identityBody := []ir.NodeID{
		b.RetExpr(0, b.Local(0, ir.TypeAny, 0)),
	}
	identityFn := b.FuncBlock(0, "identity", 1, nil, identityBody)

	strDecl := b.DeclareLocal(0, 0, b.String(0, "not an int"), true, false)
	mistypedArg := b.Local(0, ir.TypeInt, 0) // lies: annotated int, actually a string
	call := b.PreCallFuncSym(0, 1, []ir.NodeID{mistypedArg})
	ret := b.RetExpr(0, call)
	b.MainBlock(0, []ir.NodeID{strDecl, ret})

	gen := codegen.New(b.Tree())
	fnIdx, err := gen.GenerateFunc(identityFn)
	if err != nil {
		t.Fatalf("GenerateFunc failed: %v", err)
	}
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	if errs := codegen.Verify(buf); len(errs) != 0 {
		t.Fatalf("Verify reported errors: %v", errs)
	}

	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindStaticFunc(1, fnIdx)

	_, err = m.Run()
	if err == nil {
		t.Fatalf("expected a type-check panic, got nil error")
	}
	if !errors.Is(err, vm.ErrUncaught) {
		t.Fatalf("Run error = %v, want it to wrap vm.ErrUncaught", err)
	}
}

// TestCallTypeCheckPassesOnMatch is TestCallTypeCheckRaisesOnMismatch's
// mirror: the same call shape but with the argument's annotated type
// matching its actual runtime value, confirming genOperandTypeChecks'
// OpTypeCheck is not simply always-failing.
func TestCallTypeCheckPassesOnMatch(t *testing.T) {
	b := ir.NewBuilder()
	doubleBody := []ir.NodeID{
		b.RetExpr(0, b.PreBinOp(0, ir.BinMul, b.Local(0, ir.TypeAny, 0), b.Int(0, 2))),
	}
	doubleFn := b.FuncBlock(0, "double", 1, nil, doubleBody)

	call := b.PreCallFuncSym(0, 1, []ir.NodeID{b.Local(0, ir.TypeInt, 0)})
	intDecl := b.DeclareLocal(0, 0, b.Int(0, 9), true, false)
	ret := b.RetExpr(0, call)
	b.MainBlock(0, []ir.NodeID{intDecl, ret})

	gen := codegen.New(b.Tree())
	fnIdx, err := gen.GenerateFunc(doubleFn)
	if err != nil {
		t.Fatalf("GenerateFunc failed: %v", err)
	}
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindStaticFunc(1, fnIdx)

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != 18 {
		t.Fatalf("double(9) = %d, want 18", result.AsInt())
	}
}

// TestUnwindReleasesPoppedFrameRegisters is comment 2's regression test: a
// called function retains a heap-backed list in one of its own locals and
// then throws past it with no release statement of its own ever running.
// unwindThrow must release every retained register in each popped frame's
// window itself, or the list leaks forever once its only owning frame is
// discarded out from under it.
func TestUnwindReleasesPoppedFrameRegisters(t *testing.T) {
	b := ir.NewBuilder()
	leakyBody := []ir.NodeID{
		b.DeclareLocal(0, 0, b.List(0, []ir.NodeID{b.Int(0, 1), b.Int(0, 2)}), true, false),
		b.ExprStmt(0, b.Throw(0, b.Int(0, 99))),
	}
	leakyFn := b.FuncBlock(0, "leaky", 0, nil, leakyBody)

	slotDecl := b.DeclareLocal(0, 0, b.None(0), true, false)
	call := b.PreCallFuncSym(0, 1, nil)
	tryStmt := b.Try(0, []ir.NodeID{b.ExprStmt(0, call)}, 0, nil)
	ret := b.RetExpr(0, b.Local(0, ir.TypeAny, 0))
	b.MainBlock(0, []ir.NodeID{slotDecl, tryStmt, ret})

	gen := codegen.New(b.Tree())
	fnIdx, err := gen.GenerateFunc(leakyFn)
	if err != nil {
		t.Fatalf("GenerateFunc failed: %v", err)
	}
	buf, err := gen.GenerateMain()
	if err != nil {
		t.Fatalf("GenerateMain failed: %v", err)
	}
	m, err := vm.New(buf, 0, 0)
	if err != nil {
		t.Fatalf("vm.New failed: %v", err)
	}
	m.BindStaticFunc(1, fnIdx)

	result, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.AsInt() != 99 {
		t.Fatalf("caught error register = %d, want 99", result.AsInt())
	}
	if live := m.Heap().Live(); live != 0 {
		t.Fatalf("heap has %d live objects after unwinding past the retaining frame, want 0 (leaked)", live)
	}
}
