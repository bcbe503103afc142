// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package codegen

import (
	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/ir"
	"github.com/probechain/cyber-lang/internal/value"
)

// genExpr generates the code for node id against destination constraint d
// and returns the generated-value record the caller uses to decide
// release/propagation (§4.C).
func (g *Generator) genExpr(id ir.NodeID, d dest) (genValue, error) {
	n := g.tree.Node(id)
	switch e := n.(type) {
	case *ir.Local:
		reg := g.allocTemp()
		if g.locals[e.Slot].lifted {
			g.buf.Emit4(bytecode.OpBoxValueRetain, g.localReg(e.Slot), reg, 0)
		} else {
			g.buf.Emit4(bytecode.OpCopyRetainSrc, reg, g.localReg(e.Slot), 0)
		}
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Captured:
		// A function body always reads its own running closure out of the
		// callee slot (register 4) — captures are never relayed through an
		// intermediate local.
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpCaptured, uint8(calleeOff), uint8(e.UpvalIdx), reg)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.VarSym:
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpStaticVar, reg, e.SymID)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.FuncSym:
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpStaticFunc, reg, e.SymID)
		return g.place(d, reg, false)

	case *ir.TypeSym:
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpTagLiteral, reg, e.TypeID)
		return g.place(d, reg, false)

	case *ir.Int:
		if e.Value >= -128 && e.Value <= 127 {
			reg := g.allocTemp()
			g.buf.Emit4(bytecode.OpConstI8, reg, uint8(int8(e.Value)), 0)
			return g.place(d, reg, false)
		}
		idx := g.buf.InternConstant(value.Int(e.Value).Bits())
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.Float:
		bits := value.Float(e.Value).Bits()
		idx := g.buf.InternConstant(bits)
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.String:
		off, length := g.buf.InternString(e.Value)
		idx := g.buf.InternConstant(value.StaticString(off, length).Bits())
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.StringTemplate:
		exprRegs := make([]uint8, len(e.Exprs))
		for i, ex := range e.Exprs {
			v, err := g.genExpr(ex, simple())
			if err != nil {
				return genValue{}, err
			}
			exprRegs[i] = v.reg
		}
		for i := len(exprRegs) - 1; i >= 0; i-- {
			g.releaseTemp(genValue{reg: exprRegs[i], retained: true, temp: true})
		}
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpStringTemplate, reg, uint16(len(e.Exprs)))
		g.buf.EmitRaw(exprRegs...)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.False:
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpFalse, reg, 0, 0)
		return g.place(d, reg, false)

	case *ir.True:
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpTrue, reg, 0, 0)
		return g.place(d, reg, false)

	case *ir.None:
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpNone, reg, 0, 0)
		return g.place(d, reg, false)

	case *ir.Symbol:
		idx := g.buf.InternConstant(value.Symbol(e.SymID).Bits())
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.Errorv:
		idx := g.buf.InternConstant(value.Error(e.SymID).Bits())
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.EnumMemberSym:
		idx := g.buf.InternConstant(value.Enum(e.TypeID, e.Member).Bits())
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpConstOp, reg, idx)
		return g.place(d, reg, false)

	case *ir.List:
		start := g.nextTemp
		for _, el := range e.Elems {
			if _, err := g.genExpr(el, prefer(g.allocTemp())); err != nil {
				return genValue{}, err
			}
		}
		for range e.Elems {
			g.freeTemp()
		}
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpList, start, uint8(len(e.Elems)), reg)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Map:
		if len(e.Entries) == 0 {
			reg := g.allocTemp()
			g.buf.Emit4(bytecode.OpMapEmpty, reg, 0, 0)
			g.markRetained(reg)
			return g.place(d, reg, true)
		}
		start := g.nextTemp
		keyIdxs := make([]uint16, len(e.Entries))
		for i, entry := range e.Entries {
			if _, err := g.genExpr(entry.Val, prefer(g.allocTemp())); err != nil {
				return genValue{}, err
			}
			idx, err := g.mapKeyConstIdx(entry.Key)
			if err != nil {
				return genValue{}, err
			}
			keyIdxs[i] = idx
		}
		for range e.Entries {
			g.freeTemp()
		}
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpMap, start, uint8(len(e.Entries)), reg)
		for _, ki := range keyIdxs {
			g.buf.EmitRaw(byte(ki), byte(ki>>8))
		}
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.ObjectInit:
		start := g.nextTemp
		for _, f := range e.Fields {
			if _, err := g.genExpr(f, prefer(g.allocTemp())); err != nil {
				return genValue{}, err
			}
		}
		for range e.Fields {
			g.freeTemp()
		}
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpObject, start, e.TypeID)
		g.buf.EmitRaw(uint8(len(e.Fields)), reg)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.PreBinOp:
		return g.genBinOp(e, d)

	case *ir.PreUnOp:
		operand, err := g.genExpr(e.Operand, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		op := bytecode.OpNegInt
		switch e.Op {
		case ir.UnNot:
			op = bytecode.OpNot
		case ir.UnBitNot:
			op = bytecode.OpBitNot
		}
		g.buf.Emit4(op, reg, operand.reg, 0)
		g.releaseTemp(operand)
		return g.place(d, reg, false)

	case *ir.PreCall:
		return g.genCall(e.Callee, e.Args, d)

	case *ir.PreCallFuncSym:
		return g.genCallSym(e.SymID, e.Args, d)

	case *ir.PreCallObjSym:
		return g.genCallObjSym(e.Recv, e.MethodGroupID, e.Args, d)

	case *ir.PreCallObjSymBinOp:
		return g.genCallObjSym(e.Recv, e.MethodGroupID, []ir.NodeID{e.Right}, d)

	case *ir.PreCallObjSymUnOp:
		return g.genCallObjSym(e.Recv, e.MethodGroupID, nil, d)

	case *ir.PreSlice:
		recv, err := g.genExpr(e.Recv, simple())
		if err != nil {
			return genValue{}, err
		}
		lo, err := g.genExpr(e.Lo, simple())
		if err != nil {
			return genValue{}, err
		}
		hi, err := g.genExpr(e.Hi, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpSliceList, recv.reg, lo.reg, hi.reg)
		g.buf.EmitRaw(reg)
		g.releaseTemp(hi)
		g.releaseTemp(lo)
		g.releaseTemp(recv)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.FieldStatic:
		recv, err := g.genExpr(e.Recv, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		g.buf.EmitImm(bytecode.OpField, recv.reg, e.FieldID)
		g.buf.EmitRaw(reg)
		g.releaseTemp(recv)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.FieldDynamic:
		recv, err := g.genExpr(e.Recv, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpObjectField, recv.reg, uint8(e.FieldIx), reg)
		g.releaseTemp(recv)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Cast:
		operand, err := g.genExpr(e.Operand, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		op := bytecode.OpCast
		if e.Abstract {
			op = bytecode.OpCastAbstract
		}
		g.buf.EmitImm(op, operand.reg, uint16(e.TargetType))
		g.buf.EmitRaw(reg)
		g.releaseTemp(operand)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Lambda:
		return g.genLambda(e, d)

	case *ir.SwitchBlock:
		return g.genSwitchBlock(e, d)

	case *ir.CondExpr:
		cond, err := g.genExpr(e.Cond, simple())
		if err != nil {
			return genValue{}, err
		}
		g.releaseTemp(cond)
		elseLabel := g.nextLabel("cond_else")
		endLabel := g.nextLabel("cond_end")
		g.buf.ReserveJump(bytecode.OpJumpNotCond, cond.reg, elseLabel)
		reg := g.allocTemp()
		if _, err := g.genExpr(e.Then, exact(reg)); err != nil {
			return genValue{}, err
		}
		g.buf.ReserveJump(bytecode.OpJump, 0, endLabel)
		g.buf.Label(elseLabel)
		if _, err := g.genExpr(e.Else, exact(reg)); err != nil {
			return genValue{}, err
		}
		g.buf.Label(endLabel)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.TryExpr:
		reg := g.allocTemp()
		catchLabel := g.nextLabel("try_expr_catch")
		g.buf.ReserveJump(bytecode.OpPushTry, reg, catchLabel)
		if _, err := g.genExpr(e.Operand, exact(reg)); err != nil {
			return genValue{}, err
		}
		g.buf.EmitImm(bytecode.OpPopTry, 0, 0)
		g.buf.Label(catchLabel)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Throw:
		operand, err := g.genExpr(e.Operand, simple())
		if err != nil {
			return genValue{}, err
		}
		g.buf.Emit4(bytecode.OpThrow, operand.reg, 0, 0)
		g.releaseTemp(operand)
		return genValue{}, nil

	case *ir.CoinitCall:
		start := g.nextTemp
		if _, err := g.genExpr(e.Callee, prefer(g.allocTemp())); err != nil {
			return genValue{}, err
		}
		for _, a := range e.Args {
			if _, err := g.genExpr(a, prefer(g.allocTemp())); err != nil {
				return genValue{}, err
			}
		}
		argc := len(e.Args)
		for i := 0; i < argc+1; i++ {
			g.freeTemp()
		}
		reg := g.allocTemp()
		// endOff is resolved by the VM from the callee's own FuncMeta
		// entry, not patched here.
		g.buf.EmitImm(bytecode.OpCoinit, start, uint16(argc+1))
		g.buf.EmitRaw(reg, uint8(e.StackSize))
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Coresume:
		fiber, err := g.genExpr(e.Fiber, simple())
		if err != nil {
			return genValue{}, err
		}
		reg := g.allocTemp()
		g.buf.Emit4(bytecode.OpCoresume, fiber.reg, reg, 0)
		g.releaseTemp(fiber)
		g.markRetained(reg)
		return g.place(d, reg, true)

	case *ir.Coyield:
		if e.HasValue {
			v, err := g.genExpr(e.Value, simple())
			if err != nil {
				return genValue{}, err
			}
			g.buf.Emit4(bytecode.OpCoyield, v.reg, v.reg, 0)
			g.releaseTemp(v)
		} else {
			g.buf.Emit4(bytecode.OpCoyield, 0, 0, 0)
		}
		return genValue{}, nil

	default:
		return genValue{}, newInternalError("genExpr: unhandled node kind %v at %d", n.Kind(), id)
	}
}

// place resolves a freshly-generated value sitting in a temp register into
// destination constraint d, freeing the temp when the destination
// consumed it (i.e. d is not destSimple/destExact-to-same-register).
func (g *Generator) place(d dest, reg uint8, retained bool) (genValue, error) {
	gv := g.resolveDest(d, reg, retained)
	if !gv.temp && reg != gv.reg {
		g.freeTemp()
	}
	return gv, nil
}

// mapKeyConstIdx resolves a map literal's key node to a constant-pool
// index: map literal keys are always compile-time literals (§4.C), never
// arbitrary expressions, so this never needs to emit code.
func (g *Generator) mapKeyConstIdx(key ir.NodeID) (uint16, error) {
	switch k := g.tree.Node(key).(type) {
	case *ir.String:
		off, length := g.buf.InternString(k.Value)
		return g.buf.InternConstant(value.StaticString(off, length).Bits()), nil
	case *ir.Int:
		return g.buf.InternConstant(value.Int(k.Value).Bits()), nil
	case *ir.Symbol:
		return g.buf.InternConstant(value.Symbol(k.SymID).Bits()), nil
	default:
		return 0, newInternalError("genExpr: unsupported map literal key kind %v", k.Kind())
	}
}

func (g *Generator) genBinOp(e *ir.PreBinOp, d dest) (genValue, error) {
	left, err := g.genExpr(e.Left, simple())
	if err != nil {
		return genValue{}, err
	}
	right, err := g.genExpr(e.Right, simple())
	if err != nil {
		return genValue{}, err
	}
	reg := g.allocTemp()

	switch e.Op {
	case ir.BinEq:
		g.buf.Emit4(bytecode.OpCompare, reg, left.reg, right.reg)
	case ir.BinNeq:
		g.buf.Emit4(bytecode.OpCompareNot, reg, left.reg, right.reg)
	case ir.BinLt, ir.BinLte, ir.BinGt, ir.BinGte:
		g.buf.Emit4(bytecode.OpCompare, reg, left.reg, right.reg)
	default:
		op := binOpToOpcodeTyped(e.Op, g.tree.Node(e.Left).Type())
		g.buf.Emit4(op, reg, left.reg, right.reg)
	}

	// Both operands are retained temps released together when possible
	// (§4.C: "a single fused releaseN when both must be released").
	if left.temp && left.retained && right.temp && right.retained {
		g.buf.Emit4(bytecode.OpReleaseN, 2, 0, 0)
		g.buf.EmitRaw(left.reg, right.reg)
		g.freeTemp()
		g.freeTemp()
	} else {
		g.releaseTemp(right)
		g.releaseTemp(left)
	}
	return g.place(d, reg, false)
}

// binOpToOpcodeTyped picks the int or float specialization of an
// arithmetic/bitwise operator based on the left operand's known static
// type, falling back to the int path when the type is unknown (§4.C
// "type-directed specialization").
func binOpToOpcodeTyped(op ir.BinOp, leftType ir.TypeRef) bytecode.Op {
	isFloat := leftType == ir.TypeFloat
	switch op {
	case ir.BinAdd:
		if isFloat {
			return bytecode.OpAddFloat
		}
		return bytecode.OpAddInt
	case ir.BinSub:
		if isFloat {
			return bytecode.OpSubFloat
		}
		return bytecode.OpSubInt
	case ir.BinMul:
		if isFloat {
			return bytecode.OpMulFloat
		}
		return bytecode.OpMulInt
	case ir.BinDiv:
		if isFloat {
			return bytecode.OpDivFloat
		}
		return bytecode.OpDivInt
	case ir.BinMod:
		if isFloat {
			return bytecode.OpModFloat
		}
		return bytecode.OpModInt
	case ir.BinBitAnd:
		return bytecode.OpBitAnd
	case ir.BinBitOr:
		return bytecode.OpBitOr
	case ir.BinBitXor:
		return bytecode.OpBitXor
	case ir.BinShl:
		return bytecode.OpBitShl
	case ir.BinShr:
		return bytecode.OpBitShr
	default:
		return bytecode.OpAddInt
	}
}

func (g *Generator) genCall(callee ir.NodeID, args []ir.NodeID, d dest) (genValue, error) {
	retSlot := g.allocTemp() // ret
	g.allocTemp()            // ret-info
	g.allocTemp()            // ret-addr
	g.allocTemp()            // prev-fp
	calleeReg := g.allocTemp()
	if _, err := g.genExpr(callee, exact(calleeReg)); err != nil {
		return genValue{}, err
	}
	argRegs := make([]uint8, len(args))
	for i, a := range args {
		argRegs[i] = g.allocTemp()
		if _, err := g.genExpr(a, exact(argRegs[i])); err != nil {
			return genValue{}, err
		}
	}
	g.genOperandTypeChecks(args, argRegs)
	g.buf.Emit4(bytecode.OpCall, retSlot, uint8(len(args)), 1)
	for range args {
		g.freeTemp()
	}
	g.freeTemp() // callee
	g.freeTemp() // prev-fp
	g.freeTemp() // ret-addr
	g.freeTemp() // ret-info
	g.markRetained(retSlot)
	return g.place(d, retSlot, true)
}

func (g *Generator) genCallSym(symID uint16, args []ir.NodeID, d dest) (genValue, error) {
	retSlot := g.allocTemp()
	g.allocTemp() // ret-info
	g.allocTemp() // ret-addr
	g.allocTemp() // prev-fp
	g.allocTemp() // callee slot: unused for a direct symbol call, but kept
	// reserved so the callee's own register window lines up with genCall's
	// (its params always start at paramOff, one past the callee slot).
	argRegs := make([]uint8, len(args))
	for i, a := range args {
		argRegs[i] = g.allocTemp()
		if _, err := g.genExpr(a, exact(argRegs[i])); err != nil {
			return genValue{}, err
		}
	}
	g.genOperandTypeChecks(args, argRegs)
	g.buf.EmitImm(bytecode.OpCallSym, retSlot, symID)
	g.buf.EmitRaw(uint8(len(args)), 1)
	for range args {
		g.freeTemp()
	}
	g.freeTemp() // callee slot
	g.freeTemp()
	g.freeTemp()
	g.freeTemp()
	g.markRetained(retSlot)
	return g.place(d, retSlot, true)
}

func (g *Generator) genCallObjSym(recv ir.NodeID, mgID uint16, args []ir.NodeID, d dest) (genValue, error) {
	retSlot := g.allocTemp()
	g.allocTemp()
	g.allocTemp()
	g.allocTemp()
	recvReg := g.allocTemp()
	if _, err := g.genExpr(recv, exact(recvReg)); err != nil {
		return genValue{}, err
	}
	argRegs := make([]uint8, len(args))
	for i, a := range args {
		argRegs[i] = g.allocTemp()
		if _, err := g.genExpr(a, exact(argRegs[i])); err != nil {
			return genValue{}, err
		}
	}
	checkIDs := append([]ir.NodeID{recv}, args...)
	checkRegs := append([]uint8{recvReg}, argRegs...)
	g.genOperandTypeChecks(checkIDs, checkRegs)
	g.buf.EmitImm(bytecode.OpCallObjSym, retSlot, mgID)
	g.buf.EmitRaw(uint8(len(args) + 1))
	for range args {
		g.freeTemp()
	}
	g.freeTemp() // recv
	g.freeTemp()
	g.freeTemp()
	g.freeTemp()
	g.markRetained(retSlot)
	return g.place(d, retSlot, true)
}

// genCallObjSymFromReg is genCallObjSym's register-input counterpart: the
// receiver and args are already materialized registers (e.g. a loop-carried
// iterator temp) rather than expressions needing their own genExpr pass.
// Used by the forIter iterator()/next() protocol calls, keeping them on the
// same wire convention as every other OpCallObjSym call site.
func (g *Generator) genCallObjSymFromReg(recvSrc uint8, mgID uint16, argSrcs []uint8, d dest) (genValue, error) {
	retSlot := g.allocTemp()
	g.allocTemp()
	g.allocTemp()
	g.allocTemp()
	recvReg := g.allocTemp()
	g.buf.Emit4(bytecode.OpCopy, recvReg, recvSrc, 0)
	argRegs := make([]uint8, len(argSrcs))
	for i, src := range argSrcs {
		argRegs[i] = g.allocTemp()
		g.buf.Emit4(bytecode.OpCopy, argRegs[i], src, 0)
	}
	g.buf.EmitImm(bytecode.OpCallObjSym, retSlot, mgID)
	g.buf.EmitRaw(uint8(len(argSrcs) + 1))
	for range argSrcs {
		g.freeTemp()
	}
	g.freeTemp() // recv
	g.freeTemp()
	g.freeTemp()
	g.freeTemp()
	g.markRetained(retSlot)
	return g.place(d, retSlot, true)
}

func (g *Generator) genLambda(e *ir.Lambda, d dest) (genValue, error) {
	idx, err := g.generateFunc(g.nextLabel("lambda"), e.NumParams, e.Captures, e.Body)
	if err != nil {
		return genValue{}, err
	}
	reg := g.allocTemp()
	if len(e.Captures) == 0 {
		g.buf.EmitImm(bytecode.OpLambda, reg, idx)
		g.buf.EmitRaw(uint8(e.NumParams))
	} else {
		capRegs := make([]uint8, len(e.Captures))
		for i, slot := range e.Captures {
			capRegs[i] = g.localReg(slot)
		}
		g.buf.EmitImm(bytecode.OpClosure, reg, idx)
		g.buf.EmitRaw(uint8(e.NumParams), uint8(len(e.Captures)))
		g.buf.EmitRaw(capRegs...)
	}
	g.markRetained(reg)
	return g.place(d, reg, true)
}

func (g *Generator) genSwitchBlock(e *ir.SwitchBlock, d dest) (genValue, error) {
	scrutinee, err := g.genExpr(e.Scrutinee, simple())
	if err != nil {
		return genValue{}, err
	}
	reg := g.allocTemp()
	endLabel := g.nextLabel("switch_block_end")
	for _, c := range e.Cases {
		caseLabel := g.nextLabel("switch_block_case")
		if len(c.Conds) == 0 {
			if _, err := g.genExpr(c.Value, exact(reg)); err != nil {
				return genValue{}, err
			}
			g.buf.ReserveJump(bytecode.OpJump, 0, endLabel)
			continue
		}
		for _, cond := range c.Conds {
			cv, err := g.genExpr(cond, simple())
			if err != nil {
				return genValue{}, err
			}
			cmp := g.allocTemp()
			g.buf.Emit4(bytecode.OpCompare, cmp, scrutinee.reg, cv.reg)
			g.releaseTemp(cv)
			g.buf.ReserveJump(bytecode.OpJumpCond, cmp, caseLabel)
			g.freeTemp()
		}
		nextLabel := g.nextLabel("switch_block_next")
		g.buf.ReserveJump(bytecode.OpJump, 0, nextLabel)
		g.buf.Label(caseLabel)
		if _, err := g.genExpr(c.Value, exact(reg)); err != nil {
			return genValue{}, err
		}
		g.buf.ReserveJump(bytecode.OpJump, 0, endLabel)
		g.buf.Label(nextLabel)
	}
	g.buf.Label(endLabel)
	g.releaseTemp(scrutinee)
	g.markRetained(reg)
	return g.place(d, reg, true)
}
