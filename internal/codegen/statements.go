// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package codegen

import (
	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/ir"
)

// genStmt emits one statement node, enforcing §4.C/§8's invariant that the
// temp-register top and unwind-stack height are equal before and after.
func (g *Generator) genStmt(id ir.NodeID) error {
	tempBefore, unwindBefore := g.nextTemp, len(g.unwind)
	if err := g.genStmtInner(id); err != nil {
		return err
	}
	g.releaseUnwindTo(unwindBefore)
	if g.nextTemp != tempBefore {
		return newInternalError("statement %d left temp top at %d, want %d", id, g.nextTemp, tempBefore)
	}
	return nil
}

func (g *Generator) genStmtBody(ids []ir.NodeID) error {
	for _, id := range ids {
		if err := g.genStmt(id); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) genStmtInner(id ir.NodeID) error {
	switch n := g.tree.Node(id).(type) {
	case *ir.DeclareLocal:
		reg := g.localReg(n.Slot)
		if n.Lifted {
			// A lifted local's register always holds a box object (so a
			// nested lambda's capture can alias it), never the raw value
			// directly — allocate that box now, before any write to it.
			g.locals[n.Slot].lifted = true
			placeholder := g.allocTemp()
			g.buf.Emit4(bytecode.OpNone, placeholder, 0, 0)
			g.buf.Emit4(bytecode.OpBox, placeholder, reg, 0)
			g.freeTemp()
			if !n.HasInit {
				return nil
			}
			_, err := g.genExpr(n.Init, boxedLocal(reg, true))
			return err
		}
		if !n.HasInit {
			g.buf.Emit4(bytecode.OpNone, reg, 0, 0)
			return nil
		}
		_, err := g.genExpr(n.Init, local(reg, true))
		return err

	case *ir.ExprStmt:
		v, err := g.genExpr(n.Expr, simple())
		if err != nil {
			return err
		}
		if v.temp {
			if v.retained {
				g.buf.Emit4(bytecode.OpRelease, v.reg, 0, 0)
			}
			g.freeTemp()
		}
		return nil

	case *ir.IfStmt:
		return g.genIf(n)

	case *ir.WhileCondStmt:
		return g.genWhileCond(n)

	case *ir.WhileInfStmt:
		return g.genWhileInf(n.Body)

	case *ir.WhileOptStmt:
		return g.genWhileOpt(n)

	case *ir.ForRangeStmt:
		return g.genForRange(n)

	case *ir.ForIterStmt:
		return g.genForIter(n)

	case *ir.SwitchStmt:
		return g.genSwitchStmt(n)

	case *ir.TryStmt:
		return g.genTryStmt(n)

	case *ir.RetExprStmt:
		v, err := g.genExpr(n.Expr, exact(0))
		if err != nil {
			return err
		}
		_ = v
		g.buf.Emit4(bytecode.OpRet1, 0, 0, 0)
		return nil

	case *ir.RetStmt:
		g.buf.Emit4(bytecode.OpRet0, 0, 0, 0)
		return nil

	case *ir.BreakStmt:
		if len(g.loops) == 0 {
			return newInternalError("break outside a loop at node %d", id)
		}
		lp := g.loops[len(g.loops)-1]
		offset := g.buf.Pos()
		g.buf.EmitImm(bytecode.OpJump, 0, 0)
		lp.breaks = append(lp.breaks, offset)
		return nil

	case *ir.ContStmt:
		if len(g.loops) == 0 {
			return newInternalError("continue outside a loop at node %d", id)
		}
		lp := g.loops[len(g.loops)-1]
		offset := g.buf.Pos()
		g.buf.EmitImm(bytecode.OpJump, 0, 0)
		lp.continues = append(lp.continues, offset)
		return nil

	case *ir.SetLocal:
		reg := g.localReg(n.Slot)
		d := local(reg, true)
		if g.locals[n.Slot].lifted {
			d = boxedLocal(reg, true)
		}
		_, err := g.genExpr(n.Right, d)
		return err

	case *ir.SetField:
		recv, err := g.genExpr(n.Recv, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(recv)
		right, err := g.genExpr(n.Right, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(right)
		g.buf.EmitImm(bytecode.OpSetField, recv.reg, n.FieldID)
		g.buf.EmitRaw(right.reg)
		return nil

	case *ir.SetObjectField:
		recv, err := g.genExpr(n.Recv, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(recv)
		right, err := g.genExpr(n.Right, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(right)
		op := bytecode.OpSetObjectField
		if n.Checked {
			op = bytecode.OpSetObjectFieldCheck
		}
		g.buf.Emit4(op, recv.reg, uint8(n.FieldIx), right.reg)
		return nil

	case *ir.SetIndex:
		recv, err := g.genExpr(n.Recv, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(recv)
		idx, err := g.genExpr(n.Index, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(idx)
		right, err := g.genExpr(n.Right, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(right)
		op := bytecode.OpSetIndexList
		if n.Container == ir.IndexMap {
			op = bytecode.OpSetIndexMap
		}
		g.buf.Emit4(op, recv.reg, idx.reg, right.reg)
		return nil

	case *ir.SetVarSym:
		_, err := g.genExpr(n.Right, varSym(n.SymID))
		return err

	case *ir.SetFuncSym:
		_, err := g.genExpr(n.Right, varSym(n.SymID))
		return err

	case *ir.SetCaptured:
		_, err := g.genExpr(n.Right, captured(uint16(n.UpvalIdx)))
		return err

	case *ir.SetCallObjSymTern:
		gv, err := g.genCallObjSym(n.Recv, n.MethodGroupID, []ir.NodeID{n.Right}, simple())
		if err != nil {
			return err
		}
		g.releaseTemp(gv)
		return nil

	case *ir.OpSet:
		reg := g.localReg(n.Slot)
		right, err := g.genExpr(n.Right, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(right)
		g.buf.Emit4(binOpToOpcode(n.Op, true), reg, reg, right.reg)
		return nil

	case *ir.SetLocalType:
		return nil // static-type narrowing only; no runtime effect to emit

	case *ir.PushBlock:
		return nil
	case *ir.PopBlock:
		for i := n.Start; i < n.Start+n.Count; i++ {
			if g.locals[i].rcCandidate {
				g.buf.Emit4(bytecode.OpRelease, g.localReg(i), 0, 0)
			}
		}
		return nil

	case *ir.Verbose:
		return g.genStmt(n.Inner)

	case *ir.PushDebugLabel:
		g.buf.Label(n.Label)
		return nil

	case *ir.DestrElemsStmt:
		src, err := g.genExpr(n.Src, simple())
		if err != nil {
			return err
		}
		defer g.releaseTemp(src)
		g.buf.Emit4(bytecode.OpSeqDestructure, src.reg, uint8(len(n.Slots)), 0)
		regs := make([]byte, len(n.Slots))
		for i, slot := range n.Slots {
			regs[i] = g.localReg(slot)
		}
		g.buf.EmitRaw(regs...)
		return nil

	case *ir.FuncBlock, *ir.MainBlock:
		// Nested function/main declarations are compiled via
		// Generator.GenerateFunc from the caller that discovers them
		// (e.g. a lambda expression); encountering one here as a bare
		// statement is a no-op.
		return nil

	default:
		return newInternalError("genStmt: unhandled node kind %v at %d", g.tree.Node(id).Kind(), id)
	}
}

// releaseTemp releases and frees v if it is a retained temp, a defer-
// friendly counterpart to the inline bookkeeping genStmtInner performs for
// its own intermediate reads.
func (g *Generator) releaseTemp(v genValue) {
	if !v.temp {
		return
	}
	if v.retained {
		g.buf.Emit4(bytecode.OpRelease, v.reg, 0, 0)
	}
	g.freeTemp()
}

func (g *Generator) genIf(n *ir.IfStmt) error {
	endLabel := g.nextLabel("if_end")
	for i, c := range n.Cases {
		isLast := i == len(n.Cases)-1
		if c.Cond == 0 && isLast {
			// final unconditional else
			if err := g.genStmtBody(c.Body); err != nil {
				return err
			}
			continue
		}
		cond, err := g.genExpr(c.Cond, simple())
		if err != nil {
			return err
		}
		g.releaseTemp(cond)
		nextLabel := g.nextLabel("if_case")
		g.buf.ReserveJump(bytecode.OpJumpNotCond, cond.reg, nextLabel)
		if err := g.genStmtBody(c.Body); err != nil {
			return err
		}
		if !isLast {
			g.buf.ReserveJump(bytecode.OpJump, 0, endLabel)
		}
		g.buf.Label(nextLabel)
	}
	g.buf.Label(endLabel)
	return nil
}

func (g *Generator) genWhileCond(n *ir.WhileCondStmt) error {
	startLabel := g.nextLabel("while_start")
	endLabel := g.nextLabel("while_end")
	g.buf.Label(startLabel)
	cond, err := g.genExpr(n.Cond, simple())
	if err != nil {
		return err
	}
	g.releaseTemp(cond)
	g.buf.ReserveJump(bytecode.OpJumpNotCond, cond.reg, endLabel)

	lp := &loopPatches{contLabel: startLabel}
	g.loops = append(g.loops, lp)
	if err := g.genStmtBody(n.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.buf.ReserveJump(bytecode.OpJump, 0, startLabel)
	g.buf.Label(endLabel)
	g.patchLoopExits(lp, endLabel, startLabel)
	return nil
}

func (g *Generator) genWhileInf(body []ir.NodeID) error {
	startLabel := g.nextLabel("loop_start")
	endLabel := g.nextLabel("loop_end")
	g.buf.Label(startLabel)
	lp := &loopPatches{contLabel: startLabel}
	g.loops = append(g.loops, lp)
	if err := g.genStmtBody(body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.buf.ReserveJump(bytecode.OpJump, 0, startLabel)
	g.buf.Label(endLabel)
	g.patchLoopExits(lp, endLabel, startLabel)
	return nil
}

func (g *Generator) genWhileOpt(n *ir.WhileOptStmt) error {
	startLabel := g.nextLabel("while_opt_start")
	endLabel := g.nextLabel("while_opt_end")
	g.buf.Label(startLabel)
	opt, err := g.genExpr(n.Opt, simple())
	if err != nil {
		return err
	}
	g.buf.ReserveJump(bytecode.OpJumpNone, opt.reg, endLabel)
	g.buf.Emit4(bytecode.OpCopy, g.localReg(n.Slot), opt.reg, 0)
	g.releaseTemp(opt)

	lp := &loopPatches{contLabel: startLabel}
	g.loops = append(g.loops, lp)
	if err := g.genStmtBody(n.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]
	g.buf.ReserveJump(bytecode.OpJump, 0, startLabel)
	g.buf.Label(endLabel)
	g.patchLoopExits(lp, endLabel, startLabel)
	return nil
}

func (g *Generator) genForRange(n *ir.ForRangeStmt) error {
	startReg := g.allocTemp()
	defer g.freeTemp()
	endReg := g.allocTemp()
	defer g.freeTemp()
	stepReg := g.allocTemp()
	defer g.freeTemp()

	if _, err := g.genExpr(n.Start, exact(startReg)); err != nil {
		return err
	}
	if _, err := g.genExpr(n.End, exact(endReg)); err != nil {
		return err
	}
	if _, err := g.genExpr(n.Step, exact(stepReg)); err != nil {
		return err
	}
	counter := g.localReg(n.CounterSlot)
	g.buf.Emit4(bytecode.OpForRangeInit, startReg, endReg, stepReg)
	g.buf.Emit4(bytecode.OpCopy, counter, startReg, 0)

	bodyLabel := g.nextLabel("for_range_body")
	endLabel := g.nextLabel("for_range_end")
	g.buf.Label(bodyLabel)

	lp := &loopPatches{contLabel: bodyLabel}
	g.loops = append(g.loops, lp)
	if err := g.genStmtBody(n.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]

	backOffset := g.buf.Pos()
	g.buf.EmitImm(bytecode.OpForRange, counter, 0)
	// endReg/stepReg trail the fixed word: forRange must re-check both
	// against the counter on every iteration, and there is no spare
	// register-operand slot left once the jump target occupies the wide
	// immediate (§4.C "variable-length trailing operands").
	g.buf.EmitRaw(endReg, stepReg)
	g.buf.PatchTargetAt(backOffset, g.buf.LabelOffset(bodyLabel))
	g.buf.Label(endLabel)
	g.patchLoopExits(lp, endLabel, bodyLabel)
	return nil
}

func (g *Generator) genForIter(n *ir.ForIterStmt) error {
	iterSrc := g.allocTemp()
	if _, err := g.genExpr(n.Iterable, exact(iterSrc)); err != nil {
		return err
	}
	// `iterator()` method-group id 0 is reserved for the iterator protocol
	// by convention; `next()` is method-group id 1.
	iterGV, err := g.genCallObjSymFromReg(iterSrc, 0, nil, simple())
	if err != nil {
		return err
	}
	g.freeTemp() // iterSrc
	iterReg := iterGV.reg
	defer g.releaseTemp(iterGV)
	if n.CountSlot >= 0 {
		g.buf.Emit4(bytecode.OpConstI8, g.localReg(n.CountSlot), 0, 0)
	}

	bodyLabel := g.nextLabel("for_iter_body")
	endLabel := g.nextLabel("for_iter_end")
	g.buf.Label(bodyLabel)

	eachReg := g.localReg(n.EachSlot)
	if _, err := g.genCallObjSymFromReg(iterReg, 1, nil, local(eachReg, true)); err != nil {
		return err
	}
	g.buf.ReserveJump(bytecode.OpJumpNone, eachReg, endLabel)

	if n.CountSlot >= 0 {
		counter := g.localReg(n.CountSlot)
		one := g.allocTemp()
		g.buf.Emit4(bytecode.OpConstI8, one, 1, 0)
		g.buf.Emit4(bytecode.OpAddInt, counter, counter, one)
		g.freeTemp()
	}

	lp := &loopPatches{contLabel: bodyLabel}
	g.loops = append(g.loops, lp)
	if err := g.genStmtBody(n.Body); err != nil {
		return err
	}
	g.loops = g.loops[:len(g.loops)-1]

	g.buf.ReserveJump(bytecode.OpJump, 0, bodyLabel)
	g.buf.Label(endLabel)
	g.patchLoopExits(lp, endLabel, bodyLabel)
	return nil
}

func (g *Generator) patchLoopExits(lp *loopPatches, endLabel, contLabel string) {
	for _, off := range lp.breaks {
		g.buf.RetargetReservedJump(off, endLabel)
	}
	for _, off := range lp.continues {
		g.buf.RetargetReservedJump(off, contLabel)
	}
}

func (g *Generator) genSwitchStmt(n *ir.SwitchStmt) error {
	scrutinee, err := g.genExpr(n.Scrutinee, simple())
	if err != nil {
		return err
	}
	defer g.releaseTemp(scrutinee)

	endLabel := g.nextLabel("switch_end")
	for _, c := range n.Cases {
		caseLabel := g.nextLabel("switch_case")
		if len(c.Conds) == 0 {
			if err := g.genStmtBody(c.Body); err != nil {
				return err
			}
			continue
		}
		for _, cond := range c.Conds {
			cv, err := g.genExpr(cond, simple())
			if err != nil {
				return err
			}
			cmp := g.allocTemp()
			g.buf.Emit4(bytecode.OpCompare, cmp, scrutinee.reg, cv.reg)
			g.releaseTemp(cv)
			g.buf.ReserveJump(bytecode.OpJumpCond, cmp, caseLabel)
			g.freeTemp()
		}
		nextLabel := g.nextLabel("switch_next")
		g.buf.ReserveJump(bytecode.OpJump, 0, nextLabel)
		g.buf.Label(caseLabel)
		if err := g.genStmtBody(c.Body); err != nil {
			return err
		}
		g.buf.ReserveJump(bytecode.OpJump, 0, endLabel)
		g.buf.Label(nextLabel)
	}
	g.buf.Label(endLabel)
	return nil
}

func (g *Generator) genTryStmt(n *ir.TryStmt) error {
	endLabel := g.nextLabel("try_end")
	errReg := g.localReg(n.ErrSlot)
	g.buf.ReserveJump(bytecode.OpPushTry, errReg, endLabel)
	if err := g.genStmtBody(n.Body); err != nil {
		return err
	}
	g.buf.EmitImm(bytecode.OpPopTry, 0, 0)
	skipCatch := g.nextLabel("try_skip_catch")
	g.buf.ReserveJump(bytecode.OpJump, 0, skipCatch)
	g.buf.Label(endLabel)
	if err := g.genStmtBody(n.Catch); err != nil {
		return err
	}
	g.buf.Label(skipCatch)
	return nil
}

// binOpToOpcode picks the type-directed specialization for a binary
// operator; forceInt selects the integer path for compound assignment
// (opSet) targets, which this generator treats as int by default absent a
// type-annotation consumer.
func binOpToOpcode(op ir.BinOp, forceInt bool) bytecode.Op {
	switch op {
	case ir.BinAdd:
		return bytecode.OpAddInt
	case ir.BinSub:
		return bytecode.OpSubInt
	case ir.BinMul:
		return bytecode.OpMulInt
	case ir.BinDiv:
		return bytecode.OpDivInt
	case ir.BinMod:
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
	case ir.BinEq, ir.BinNeq, ir.BinLt, ir.BinLte, ir.BinGt, ir.BinGte:
		return bytecode.OpCompare
	default:
		return bytecode.OpAddInt
	}
}
