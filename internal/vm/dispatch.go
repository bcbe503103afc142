// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package vm

import (
	"fmt"
	"math"

	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/value"
)

// dispatch executes exactly one decoded instruction. a/c1/c2 are the three
// raw register-operand bytes; imm is c1:c2 reinterpreted as a little-endian
// wide immediate, used by opcodes whose opTable entry is marked wide.
// Grounded on the teacher's execute() switch (lang/vm/vm.go), generalized
// from PROBE's flat arithmetic/chain-state opcodes to Cyber's tagged-value
// opcode set.
func (vm *VM) dispatch(op bytecode.Op, a, c1, c2 uint8, imm uint16) error {
	switch op {

	// ---- Nullary constants -------------------------------------------------
	case bytecode.OpTrue:
		vm.setReg(a, value.Bool(true))
	case bytecode.OpFalse:
		vm.setReg(a, value.Bool(false))
	case bytecode.OpNone:
		vm.setReg(a, value.None)

	// ---- Constant pool ------------------------------------------------------
	// internal/codegen's EmitImm(op, reg, idx) always places the destination
	// register in `a` and the constant-pool index in the wide immediate.
	case bytecode.OpConstOp:
		vm.setReg(a, vm.constAt(imm))
	case bytecode.OpConstRetain:
		v := vm.constAt(imm)
		vm.heap.Retain(v)
		vm.setReg(a, v)
	case bytecode.OpConstI8:
		vm.setReg(a, value.Int(int64(int8(c1))))

	// ---- Copy / retain / release --------------------------------------------
	// internal/codegen always emits these as Emit4(op, dst, src, 0).
	case bytecode.OpCopy:
		vm.setReg(a, vm.getReg(c1))
	case bytecode.OpCopyRetainSrc:
		v := vm.getReg(c1)
		vm.heap.Retain(v)
		vm.setReg(a, v)
	case bytecode.OpCopyReleaseDst:
		vm.releaseReg(a)
		vm.setReg(a, vm.getReg(c1))
	case bytecode.OpCopyRetainRelease:
		v := vm.getReg(c1)
		vm.heap.Retain(v)
		vm.releaseReg(a)
		vm.setReg(a, v)
	case bytecode.OpRetain:
		vm.heap.Retain(vm.getReg(a))
	case bytecode.OpRelease:
		return vm.heap.Release(vm.getReg(a))
	case bytecode.OpReleaseN:
		return vm.execReleaseN(a)

	// ---- Boxes (lifted locals) ------------------------------------------------
	case bytecode.OpBox:
		return vm.execBox(a, c1, false)
	case bytecode.OpBoxValue:
		return vm.execBoxValue(a, c1)
	case bytecode.OpBoxValueRetain:
		return vm.execBoxValueRetain(a, c1)
	case bytecode.OpSetBoxValue:
		return vm.execSetBoxValue(a, c1, false)
	case bytecode.OpSetBoxValueRelease:
		return vm.execSetBoxValue(a, c1, true)

	// ---- Containers --------------------------------------------------------
	case bytecode.OpList:
		return vm.execList(a, c1, c2)
	case bytecode.OpMapEmpty:
		return vm.execMapEmpty(a)
	case bytecode.OpMap:
		return vm.execMap(a, c1, c2)
	case bytecode.OpObject, bytecode.OpObjectSmall:
		return vm.execObject(imm, a)

	// ---- Fields --------------------------------------------------------------
	case bytecode.OpField:
		return vm.execField(a, imm)
	case bytecode.OpObjectField:
		return vm.execObjectField(a, c1, c2)
	case bytecode.OpSetField:
		return vm.execSetField(a, imm)
	case bytecode.OpSetObjectField, bytecode.OpSetObjectFieldCheck:
		return vm.execSetObjectField(a, c1, c2)

	// ---- Calls ---------------------------------------------------------------
	case bytecode.OpCall:
		return vm.execCall(a, c1, c2)
	case bytecode.OpCallSym:
		return vm.execCallSym(a, imm, c1)
	case bytecode.OpCallObjSym:
		return vm.execCallObjSym(a, imm, c1)
	case bytecode.OpTypeCheck:
		return vm.execTypeCheck(a, imm)
	case bytecode.OpCallTypeCheck:
		return vm.execCallTypeCheck(a, imm)

	case bytecode.OpCast:
		return vm.execCast(a, imm, false)
	case bytecode.OpCastAbstract:
		return vm.execCast(a, imm, true)

	// ---- Lambdas / closures ---------------------------------------------------
	case bytecode.OpLambda:
		return vm.execLambda(a, imm)
	case bytecode.OpClosure:
		return vm.execClosure(a, imm)
	case bytecode.OpCaptured:
		return vm.execCaptured(a, c1, c2)
	case bytecode.OpSetCaptured:
		return vm.execSetCaptured(a, c1, c2)

	// ---- Coroutines ------------------------------------------------------------
	case bytecode.OpCoinit:
		return vm.execCoinit(a, imm)
	case bytecode.OpCoresume:
		return vm.execCoresume(a, c1)
	case bytecode.OpCoyield:
		return vm.execCoyield(a, c1)
	case bytecode.OpCoreturn:
		return vm.execCoreturn()

	// ---- Exceptions -------------------------------------------------------------
	case bytecode.OpPushTry:
		vm.tryStack = append(vm.tryStack, tryFrame{
			errReg:    a,
			catchPC:   uint32(imm) * 4,
			fp:        vm.fp,
			callDepth: len(vm.callStack),
		})
	case bytecode.OpPopTry:
		if len(vm.tryStack) > 0 {
			vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]
		}
	case bytecode.OpThrow:
		return &thrownError{value: vm.getReg(a), pc: vm.pc - 4}

	// ---- Static vars / funcs -------------------------------------------------
	// OpStaticVar/OpStaticFunc read into `a` (EmitImm(op, reg, symID));
	// OpSetStaticVar/OpSetStaticFunc write from `a` (EmitImm(op, from, id)).
	case bytecode.OpStaticVar:
		vm.setReg(a, vm.staticVars[imm])
	case bytecode.OpSetStaticVar:
		vm.staticVars[imm] = vm.getReg(a)
	case bytecode.OpStaticFunc:
		idx, ok := vm.staticFuncs[imm]
		if !ok {
			return fmt.Errorf("vm: unresolved static function symbol %d", imm)
		}
		vm.setReg(a, value.Int(int64(idx)))
	case bytecode.OpSetStaticFunc:
		vm.staticFuncs[imm] = uint16(vm.getReg(a).AsInt())

	// OpTagLiteral(reg, typeId16): a type symbol's id is the literal value
	// itself, not a constant-pool index (internal/ir.TypeSym.TypeID).
	case bytecode.OpTagLiteral:
		vm.setReg(a, value.Int(int64(imm)))

	case bytecode.OpStringTemplate:
		return vm.execStringTemplate(a, imm)

	case bytecode.OpForRangeInit:
		return vm.execForRangeInit(a, c1, c2)
	case bytecode.OpForRange:
		return vm.execForRange(a, imm)

	// ---- Comparison ------------------------------------------------------------
	case bytecode.OpCompare:
		return vm.execCompare(a, c1, c2, false)
	case bytecode.OpCompareNot:
		return vm.execCompare(a, c1, c2, true)

	// ---- Indexing ---------------------------------------------------------------
	case bytecode.OpIndexList:
		return vm.execIndexList(a, c1, c2)
	case bytecode.OpIndexMap:
		return vm.execIndexMap(a, c1, c2)
	case bytecode.OpIndexTuple:
		return vm.execIndexList(a, c1, c2)
	case bytecode.OpSliceList:
		return vm.execSliceList(a, c1, c2)
	case bytecode.OpSetIndexList:
		return vm.execSetIndexList(a, c1, c2)
	case bytecode.OpSetIndexMap:
		return vm.execSetIndexMap(a, c1, c2)
	case bytecode.OpAppendList:
		return vm.heap.ListAppend(vm.getReg(a), vm.getReg(c1))
	case bytecode.OpSeqDestructure:
		return vm.execSeqDestructure(a, c1)

	// ---- Arithmetic --------------------------------------------------------------
	// genBinOp/the unary-op switch always emit Emit4(op, dst, left/operand, right):
	// dst is `a`, the operand(s) follow in c1 (and c2 for binary forms).
	case bytecode.OpAddInt:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()+vm.getReg(c2).AsInt()))
	case bytecode.OpSubInt:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()-vm.getReg(c2).AsInt()))
	case bytecode.OpMulInt:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()*vm.getReg(c2).AsInt()))
	case bytecode.OpDivInt:
		r := vm.getReg(c2).AsInt()
		if r == 0 {
			return vm.panicBuiltin(ErrSymDivisionByZero, "%v", ErrDivisionByZero)
		}
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()/r))
	case bytecode.OpModInt:
		r := vm.getReg(c2).AsInt()
		if r == 0 {
			return vm.panicBuiltin(ErrSymDivisionByZero, "%v", ErrDivisionByZero)
		}
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()%r))
	case bytecode.OpNegInt:
		vm.setReg(a, value.Int(-vm.getReg(c1).AsInt()))
	case bytecode.OpAddFloat:
		vm.setReg(a, value.Float(vm.getReg(c1).AsFloat()+vm.getReg(c2).AsFloat()))
	case bytecode.OpSubFloat:
		vm.setReg(a, value.Float(vm.getReg(c1).AsFloat()-vm.getReg(c2).AsFloat()))
	case bytecode.OpMulFloat:
		vm.setReg(a, value.Float(vm.getReg(c1).AsFloat()*vm.getReg(c2).AsFloat()))
	case bytecode.OpDivFloat:
		vm.setReg(a, value.Float(vm.getReg(c1).AsFloat()/vm.getReg(c2).AsFloat()))
	case bytecode.OpModFloat:
		l, r := vm.getReg(c1).AsFloat(), vm.getReg(c2).AsFloat()
		vm.setReg(a, value.Float(fmod(l, r)))
	case bytecode.OpNegFloat:
		vm.setReg(a, value.Float(-vm.getReg(c1).AsFloat()))

	// ---- Bitwise -------------------------------------------------------------------
	case bytecode.OpBitAnd:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()&vm.getReg(c2).AsInt()))
	case bytecode.OpBitOr:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()|vm.getReg(c2).AsInt()))
	case bytecode.OpBitXor:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()^vm.getReg(c2).AsInt()))
	case bytecode.OpBitNot:
		vm.setReg(a, value.Int(^vm.getReg(c1).AsInt()))
	case bytecode.OpBitShl:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()<<uint(vm.getReg(c2).AsInt())))
	case bytecode.OpBitShr:
		vm.setReg(a, value.Int(vm.getReg(c1).AsInt()>>uint(vm.getReg(c2).AsInt())))

	case bytecode.OpNot:
		vm.setReg(a, value.Bool(!vm.getReg(c1).AsBool()))

	// ---- Frame exit -----------------------------------------------------------------
	case bytecode.OpEnd:
		vm.halted = true
	case bytecode.OpRet0:
		return vm.execReturn(false)
	case bytecode.OpRet1:
		return vm.execReturn(true)

	// ---- Jumps (wide immediate: target word index, per Buffer.setOpArgU16) ---------
	case bytecode.OpJump:
		vm.pc = uint32(imm) * 4
	case bytecode.OpJumpCond:
		if vm.getReg(a).AsBool() {
			vm.pc = uint32(imm) * 4
		}
	case bytecode.OpJumpNotCond:
		if !vm.getReg(a).AsBool() {
			vm.pc = uint32(imm) * 4
		}
	case bytecode.OpJumpNone:
		if vm.getReg(a).Kind() == value.KindNone {
			vm.pc = uint32(imm) * 4
		}

	default:
		return ErrInvalidOpcode
	}
	return nil
}

// fmod is Cyber's `%` on floats: the truncated-division remainder of
// math.Mod, including its NaN result for a zero divisor.
func fmod(x, y float64) float64 {
	return math.Mod(x, y)
}

func (vm *VM) execReleaseN(n uint8) error {
	regs := vm.fetchRaw(int(n))
	for _, r := range regs {
		if err := vm.heap.Release(vm.getReg(r)); err != nil {
			return err
		}
	}
	return nil
}

// fetchRaw consumes n raw operand bytes following the instruction just
// decoded by Step, advancing pc past them. Used by variable-length
// instructions (releaseN, map, closure, stringTemplate, seqDestructure,
// coinit) whose trailing bytes were appended via Buffer.EmitRaw and are not
// part of the fixed 4-byte word layout other instructions use.
func (vm *VM) fetchRaw(n int) []uint8 {
	out := make([]uint8, n)
	copy(out, vm.code[vm.pc:int(vm.pc)+n])
	vm.pc += uint32(n)
	return out
}

func (vm *VM) fetchRawU16(n int) []uint16 {
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(vm.code[vm.pc]) | uint16(vm.code[vm.pc+1])<<8
		vm.pc += 2
	}
	return out
}
