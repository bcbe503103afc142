// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

// Builder assembles a Tree. Grounded on the teacher's ir.Builder (a thin
// wrapper issuing sequential Value IDs and appending to the current
// BasicBlock) — restructured here to append whole Node values to a flat
// Tree instead of threading a current-block pointer, since this IR has no
// basic blocks to thread through.
type Builder struct {
	tree *Tree
}

// NewBuilder returns a Builder over a fresh Tree.
func NewBuilder() *Builder {
	return &Builder{tree: NewTree()}
}

// Tree returns the Tree built so far.
func (b *Builder) Tree() *Tree { return b.tree }

func (b *Builder) emit(n Node) NodeID { return b.tree.add(n) }

// ---- Statements --------------------------------------------------------

func (b *Builder) DeclareLocal(loc uint32, slot int, init NodeID, hasInit, lifted bool) NodeID {
	return b.emit(&DeclareLocal{base: base{kind: KindDeclareLocal, loc: loc}, Slot: slot, Init: init, HasInit: hasInit, Lifted: lifted})
}

func (b *Builder) ExprStmt(loc uint32, expr NodeID) NodeID {
	return b.emit(&ExprStmt{base: base{kind: KindExprStmt, loc: loc}, Expr: expr})
}

func (b *Builder) If(loc uint32, cases []IfCase) NodeID {
	return b.emit(&IfStmt{base: base{kind: KindIfStmt, loc: loc}, Cases: cases})
}

func (b *Builder) WhileCond(loc uint32, cond NodeID, body []NodeID) NodeID {
	return b.emit(&WhileCondStmt{base: base{kind: KindWhileCondStmt, loc: loc}, Cond: cond, Body: body})
}

func (b *Builder) WhileInf(loc uint32, body []NodeID) NodeID {
	return b.emit(&WhileInfStmt{base: base{kind: KindWhileInfStmt, loc: loc}, Body: body})
}

func (b *Builder) WhileOpt(loc uint32, opt NodeID, slot int, body []NodeID) NodeID {
	return b.emit(&WhileOptStmt{base: base{kind: KindWhileOptStmt, loc: loc}, Opt: opt, Slot: slot, Body: body})
}

func (b *Builder) ForIter(loc uint32, iterable NodeID, eachSlot, countSlot int, body []NodeID) NodeID {
	return b.emit(&ForIterStmt{base: base{kind: KindForIterStmt, loc: loc}, Iterable: iterable, EachSlot: eachSlot, CountSlot: countSlot, Body: body})
}

func (b *Builder) ForRange(loc uint32, start, end, step NodeID, counterSlot int, body []NodeID) NodeID {
	return b.emit(&ForRangeStmt{base: base{kind: KindForRangeStmt, loc: loc}, Start: start, End: end, Step: step, CounterSlot: counterSlot, Body: body})
}

func (b *Builder) Switch(loc uint32, scrutinee NodeID, cases []SwitchCase) NodeID {
	return b.emit(&SwitchStmt{base: base{kind: KindSwitchStmt, loc: loc}, Scrutinee: scrutinee, Cases: cases})
}

func (b *Builder) Try(loc uint32, body []NodeID, errSlot int, catch []NodeID) NodeID {
	return b.emit(&TryStmt{base: base{kind: KindTryStmt, loc: loc}, Body: body, ErrSlot: errSlot, Catch: catch})
}

func (b *Builder) RetExpr(loc uint32, expr NodeID) NodeID {
	return b.emit(&RetExprStmt{base: base{kind: KindRetExprStmt, loc: loc}, Expr: expr})
}

func (b *Builder) Ret(loc uint32) NodeID {
	return b.emit(&RetStmt{base: base{kind: KindRetStmt, loc: loc}})
}

func (b *Builder) Break(loc uint32) NodeID { return b.emit(&BreakStmt{base: base{kind: KindBreakStmt, loc: loc}}) }
func (b *Builder) Cont(loc uint32) NodeID  { return b.emit(&ContStmt{base: base{kind: KindContStmt, loc: loc}}) }

func (b *Builder) SetLocal(loc uint32, slot int, right NodeID) NodeID {
	return b.emit(&SetLocal{base: base{kind: KindSetLocal, loc: loc}, Slot: slot, Right: right})
}

func (b *Builder) SetField(loc uint32, recv NodeID, fieldID uint16, right NodeID) NodeID {
	return b.emit(&SetField{base: base{kind: KindSetField, loc: loc}, Recv: recv, FieldID: fieldID, Right: right})
}

func (b *Builder) SetObjectField(loc uint32, recv NodeID, fieldIx int, right NodeID, checked bool) NodeID {
	return b.emit(&SetObjectField{base: base{kind: KindSetObjectField, loc: loc}, Recv: recv, FieldIx: fieldIx, Right: right, Checked: checked})
}

func (b *Builder) SetIndex(loc uint32, recv, index, right NodeID, kind IndexKind) NodeID {
	return b.emit(&SetIndex{base: base{kind: KindSetIndex, loc: loc}, Recv: recv, Index: index, Right: right, Container: kind})
}

func (b *Builder) SetVarSym(loc uint32, symID uint16, right NodeID) NodeID {
	return b.emit(&SetVarSym{base: base{kind: KindSetVarSym, loc: loc}, SymID: symID, Right: right})
}

func (b *Builder) SetFuncSym(loc uint32, symID uint16, right NodeID) NodeID {
	return b.emit(&SetFuncSym{base: base{kind: KindSetFuncSym, loc: loc}, SymID: symID, Right: right})
}

func (b *Builder) SetCaptured(loc uint32, closureSlot, upvalIdx int, right NodeID) NodeID {
	return b.emit(&SetCaptured{base: base{kind: KindSetCaptured, loc: loc}, ClosureSlot: closureSlot, UpvalIdx: upvalIdx, Right: right})
}

func (b *Builder) SetCallObjSymTern(loc uint32, recv NodeID, mgID uint16, args []NodeID, right NodeID) NodeID {
	return b.emit(&SetCallObjSymTern{base: base{kind: KindSetCallObjSymTern, loc: loc}, Recv: recv, MethodGroupID: mgID, Args: args, Right: right})
}

func (b *Builder) OpSet(loc uint32, slot int, op BinOp, right NodeID) NodeID {
	return b.emit(&OpSet{base: base{kind: KindOpSet, loc: loc}, Slot: slot, Op: op, Right: right})
}

func (b *Builder) SetLocalType(loc uint32, slot int, t TypeRef) NodeID {
	return b.emit(&SetLocalType{base: base{kind: KindSetLocalType, loc: loc}, Slot: slot, NewType: t})
}

func (b *Builder) PushBlock(loc uint32) NodeID { return b.emit(&PushBlock{base: base{kind: KindPushBlock, loc: loc}}) }
func (b *Builder) PopBlock(loc uint32, start, count int) NodeID {
	return b.emit(&PopBlock{base: base{kind: KindPopBlock, loc: loc}, Start: start, Count: count})
}

func (b *Builder) FuncBlock(loc uint32, name string, numParams int, captures []int, body []NodeID) NodeID {
	return b.emit(&FuncBlock{base: base{kind: KindFuncBlock, loc: loc}, Name: name, NumParams: numParams, Captures: captures, Body: body})
}

func (b *Builder) MainBlock(loc uint32, body []NodeID) NodeID {
	id := b.emit(&MainBlock{base: base{kind: KindMainBlock, loc: loc}, Body: body})
	b.tree.main = body
	return id
}

func (b *Builder) Verbose(loc uint32, inner NodeID) NodeID {
	return b.emit(&Verbose{base: base{kind: KindVerbose, loc: loc}, Inner: inner})
}

func (b *Builder) PushDebugLabel(loc uint32, label string) NodeID {
	return b.emit(&PushDebugLabel{base: base{kind: KindPushDebugLabel, loc: loc}, Label: label})
}

func (b *Builder) DestrElems(loc uint32, src NodeID, slots []int) NodeID {
	return b.emit(&DestrElemsStmt{base: base{kind: KindDestrElemsStmt, loc: loc}, Src: src, Slots: slots})
}

// ---- Expressions --------------------------------------------------------

func (b *Builder) Local(loc uint32, t TypeRef, slot int) NodeID {
	return b.emit(&Local{base: base{kind: KindLocal, loc: loc, typ: t}, Slot: slot})
}

func (b *Builder) Captured(loc uint32, t TypeRef, idx int) NodeID {
	return b.emit(&Captured{base: base{kind: KindCaptured, loc: loc, typ: t}, UpvalIdx: idx})
}

func (b *Builder) VarSym(loc uint32, t TypeRef, symID uint16) NodeID {
	return b.emit(&VarSym{base: base{kind: KindVarSym, loc: loc, typ: t}, SymID: symID})
}

func (b *Builder) FuncSym(loc uint32, symID uint16) NodeID {
	return b.emit(&FuncSym{base: base{kind: KindFuncSym, loc: loc}, SymID: symID})
}

func (b *Builder) TypeSym(loc uint32, typeID uint16) NodeID {
	return b.emit(&TypeSym{base: base{kind: KindTypeSym, loc: loc}, TypeID: typeID})
}

func (b *Builder) Int(loc uint32, v int64) NodeID {
	return b.emit(&Int{base: base{kind: KindInt, loc: loc, typ: TypeInt}, Value: v})
}

func (b *Builder) Float(loc uint32, v float64) NodeID {
	return b.emit(&Float{base: base{kind: KindFloat, loc: loc, typ: TypeFloat}, Value: v})
}

func (b *Builder) String(loc uint32, v string) NodeID {
	return b.emit(&String{base: base{kind: KindString, loc: loc, typ: TypeString}, Value: v})
}

func (b *Builder) StringTemplate(loc uint32, parts []string, exprs []NodeID) NodeID {
	return b.emit(&StringTemplate{base: base{kind: KindStringTemplate, loc: loc, typ: TypeString}, Parts: parts, Exprs: exprs})
}

func (b *Builder) False(loc uint32) NodeID { return b.emit(&False{base: base{kind: KindFalse, loc: loc, typ: TypeBool}}) }
func (b *Builder) True(loc uint32) NodeID  { return b.emit(&True{base: base{kind: KindTrue, loc: loc, typ: TypeBool}}) }
func (b *Builder) None(loc uint32) NodeID  { return b.emit(&None{base: base{kind: KindNone, loc: loc, typ: TypeNone}}) }

func (b *Builder) Symbol(loc uint32, symID uint32) NodeID {
	return b.emit(&Symbol{base: base{kind: KindSymbol, loc: loc}, SymID: symID})
}

func (b *Builder) Errorv(loc uint32, symID uint32) NodeID {
	return b.emit(&Errorv{base: base{kind: KindErrorv, loc: loc}, SymID: symID})
}

func (b *Builder) EnumMemberSym(loc uint32, typeID uint16, member uint32) NodeID {
	return b.emit(&EnumMemberSym{base: base{kind: KindEnumMemberSym, loc: loc}, TypeID: typeID, Member: member})
}

func (b *Builder) List(loc uint32, elems []NodeID) NodeID {
	return b.emit(&List{base: base{kind: KindList, loc: loc}, Elems: elems})
}

func (b *Builder) Map(loc uint32, entries []MapEntry) NodeID {
	return b.emit(&Map{base: base{kind: KindMap, loc: loc}, Entries: entries})
}

func (b *Builder) ObjectInit(loc uint32, typeID uint16, fields []NodeID) NodeID {
	return b.emit(&ObjectInit{base: base{kind: KindObjectInit, loc: loc}, TypeID: typeID, Fields: fields})
}

func (b *Builder) PreBinOp(loc uint32, op BinOp, left, right NodeID) NodeID {
	return b.emit(&PreBinOp{base: base{kind: KindPreBinOp, loc: loc}, Op: op, Left: left, Right: right})
}

func (b *Builder) PreUnOp(loc uint32, op UnOp, operand NodeID) NodeID {
	return b.emit(&PreUnOp{base: base{kind: KindPreUnOp, loc: loc}, Op: op, Operand: operand})
}

func (b *Builder) PreCall(loc uint32, callee NodeID, args []NodeID) NodeID {
	return b.emit(&PreCall{base: base{kind: KindPreCall, loc: loc}, Callee: callee, Args: args})
}

func (b *Builder) PreCallFuncSym(loc uint32, symID uint16, args []NodeID) NodeID {
	return b.emit(&PreCallFuncSym{base: base{kind: KindPreCallFuncSym, loc: loc}, SymID: symID, Args: args})
}

func (b *Builder) PreCallObjSym(loc uint32, recv NodeID, mgID uint16, args []NodeID) NodeID {
	return b.emit(&PreCallObjSym{base: base{kind: KindPreCallObjSym, loc: loc}, Recv: recv, MethodGroupID: mgID, Args: args})
}

func (b *Builder) PreCallObjSymBinOp(loc uint32, recv NodeID, op BinOp, mgID uint16, right NodeID) NodeID {
	return b.emit(&PreCallObjSymBinOp{base: base{kind: KindPreCallObjSymBinOp, loc: loc}, Recv: recv, Op: op, MethodGroupID: mgID, Right: right})
}

func (b *Builder) PreCallObjSymUnOp(loc uint32, recv NodeID, op UnOp, mgID uint16) NodeID {
	return b.emit(&PreCallObjSymUnOp{base: base{kind: KindPreCallObjSymUnOp, loc: loc}, Recv: recv, Op: op, MethodGroupID: mgID})
}

func (b *Builder) PreSlice(loc uint32, recv, lo, hi NodeID) NodeID {
	return b.emit(&PreSlice{base: base{kind: KindPreSlice, loc: loc}, Recv: recv, Lo: lo, Hi: hi})
}

func (b *Builder) FieldStatic(loc uint32, t TypeRef, recv NodeID, fieldID uint16) NodeID {
	return b.emit(&FieldStatic{base: base{kind: KindFieldStatic, loc: loc, typ: t}, Recv: recv, FieldID: fieldID})
}

func (b *Builder) FieldDynamic(loc uint32, recv NodeID, fieldIx int) NodeID {
	return b.emit(&FieldDynamic{base: base{kind: KindFieldDynamic, loc: loc}, Recv: recv, FieldIx: fieldIx})
}

func (b *Builder) Cast(loc uint32, operand NodeID, target TypeRef, abstract bool) NodeID {
	return b.emit(&Cast{base: base{kind: KindCast, loc: loc, typ: target}, Operand: operand, TargetType: target, Abstract: abstract})
}

func (b *Builder) Lambda(loc uint32, numParams int, captures []int, isCopy []bool, body []NodeID) NodeID {
	return b.emit(&Lambda{base: base{kind: KindLambda, loc: loc}, NumParams: numParams, Captures: captures, IsCopy: isCopy, Body: body})
}

func (b *Builder) SwitchBlock(loc uint32, scrutinee NodeID, cases []SwitchExprCase) NodeID {
	return b.emit(&SwitchBlock{base: base{kind: KindSwitchBlock, loc: loc}, Scrutinee: scrutinee, Cases: cases})
}

func (b *Builder) CondExpr(loc uint32, cond, then, els NodeID) NodeID {
	return b.emit(&CondExpr{base: base{kind: KindCondExpr, loc: loc}, Cond: cond, Then: then, Else: els})
}

func (b *Builder) TryExpr(loc uint32, operand NodeID) NodeID {
	return b.emit(&TryExpr{base: base{kind: KindTryExpr, loc: loc}, Operand: operand})
}

func (b *Builder) Throw(loc uint32, operand NodeID) NodeID {
	return b.emit(&Throw{base: base{kind: KindThrow, loc: loc}, Operand: operand})
}

func (b *Builder) CoinitCall(loc uint32, callee NodeID, args []NodeID, stackSize int) NodeID {
	return b.emit(&CoinitCall{base: base{kind: KindCoinitCall, loc: loc}, Callee: callee, Args: args, StackSize: stackSize})
}

func (b *Builder) Coresume(loc uint32, fiber NodeID) NodeID {
	return b.emit(&Coresume{base: base{kind: KindCoresume, loc: loc}, Fiber: fiber})
}

func (b *Builder) Coyield(loc uint32, value NodeID, hasValue bool) NodeID {
	return b.emit(&Coyield{base: base{kind: KindCoyield, loc: loc}, Value: value, HasValue: hasValue})
}
