// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package ir implements the structured statement/expression tree that
// codegen consumes (§6's "IR consumed by codegen" contract): a
// sequence-of-statements accessor returning nodes by id and kind tag from a
// fixed enumeration, each carrying a source-location handle and
// type-annotation accessors.
//
// Unlike the teacher's probe-lang/lang/ir package — SSA basic blocks with
// Phi nodes, built for dataflow optimization passes — this tree is
// structured: blocks nest directly (if/while/for/try bodies are statement
// lists, not separate blocks joined by branches), matching what an
// expression-oriented scripting language's semantic analyzer naturally
// produces and what the generator's destination-constraint walk (§4.C)
// expects to consume. Op, Constant, and TypeRef keep the teacher's naming
// since they serve the identical purpose here.
package ir

import "fmt"

// NodeID identifies a node within a Tree for debug-symbol and error
// reporting purposes.
type NodeID uint32

// Kind is the fixed enumeration of statement and expression node types
// named in §6.
type Kind uint8

const (
	// ---- Statements ---------------------------------------------------------
	KindRoot Kind = iota
	KindDeclareLocal
	KindExprStmt
	KindIfStmt
	KindWhileCondStmt
	KindWhileInfStmt
	KindWhileOptStmt
	KindForIterStmt
	KindForRangeStmt
	KindSwitchStmt
	KindTryStmt
	KindRetExprStmt
	KindRetStmt
	KindBreakStmt
	KindContStmt
	KindSetLocal
	KindSetField
	KindSetObjectField
	KindSetIndex
	KindSetVarSym
	KindSetFuncSym
	KindSetCaptured
	KindSetCallObjSymTern
	KindOpSet
	KindSetLocalType
	KindPushBlock
	KindPopBlock
	KindFuncBlock
	KindMainBlock
	KindVerbose
	KindPushDebugLabel
	KindDestrElemsStmt

	// ---- Expressions --------------------------------------------------------
	KindLocal
	KindCaptured
	KindVarSym
	KindFuncSym
	KindTypeSym
	KindInt
	KindFloat
	KindString
	KindStringTemplate
	KindFalse
	KindTrue
	KindNone
	KindSymbol
	KindErrorv
	KindEnumMemberSym
	KindList
	KindMap
	KindObjectInit
	KindPreBinOp
	KindPreUnOp
	KindPreCall
	KindPreCallFuncSym
	KindPreCallObjSym
	KindPreCallObjSymBinOp
	KindPreCallObjSymUnOp
	KindPreSlice
	KindFieldStatic
	KindFieldDynamic
	KindCast
	KindLambda
	KindSwitchBlock
	KindCondExpr
	KindTryExpr
	KindThrow
	KindCoinitCall
	KindCoresume
	KindCoyield

	kindCount
)

var kindNames = [kindCount]string{
	KindRoot: "root", KindDeclareLocal: "declareLocal", KindExprStmt: "exprStmt",
	KindIfStmt: "ifStmt", KindWhileCondStmt: "whileCondStmt", KindWhileInfStmt: "whileInfStmt",
	KindWhileOptStmt: "whileOptStmt", KindForIterStmt: "forIterStmt", KindForRangeStmt: "forRangeStmt",
	KindSwitchStmt: "switchStmt", KindTryStmt: "tryStmt", KindRetExprStmt: "retExprStmt",
	KindRetStmt: "retStmt", KindBreakStmt: "breakStmt", KindContStmt: "contStmt",
	KindSetLocal: "setLocal", KindSetField: "setField", KindSetObjectField: "setObjectField",
	KindSetIndex: "setIndex", KindSetVarSym: "setVarSym", KindSetFuncSym: "setFuncSym",
	KindSetCaptured: "setCaptured", KindSetCallObjSymTern: "setCallObjSymTern", KindOpSet: "opSet",
	KindSetLocalType: "setLocalType", KindPushBlock: "pushBlock", KindPopBlock: "popBlock",
	KindFuncBlock: "funcBlock", KindMainBlock: "mainBlock", KindVerbose: "verbose",
	KindPushDebugLabel: "pushDebugLabel", KindDestrElemsStmt: "destrElemsStmt",
	KindLocal: "local", KindCaptured: "captured", KindVarSym: "varSym", KindFuncSym: "funcSym",
	KindTypeSym: "typeSym", KindInt: "int", KindFloat: "float", KindString: "string",
	KindStringTemplate: "stringTemplate", KindFalse: "falsev", KindTrue: "truev", KindNone: "none",
	KindSymbol: "symbol", KindErrorv: "errorv", KindEnumMemberSym: "enumMemberSym",
	KindList: "list", KindMap: "map", KindObjectInit: "objectInit", KindPreBinOp: "preBinOp",
	KindPreUnOp: "preUnOp", KindPreCall: "preCall", KindPreCallFuncSym: "preCallFuncSym",
	KindPreCallObjSym: "preCallObjSym", KindPreCallObjSymBinOp: "preCallObjSymBinOp",
	KindPreCallObjSymUnOp: "preCallObjSymUnOp", KindPreSlice: "preSlice",
	KindFieldStatic: "fieldStatic", KindFieldDynamic: "fieldDynamic", KindCast: "cast",
	KindLambda: "lambda", KindSwitchBlock: "switchBlock", KindCondExpr: "condExpr",
	KindTryExpr: "tryExpr", KindThrow: "throw", KindCoinitCall: "coinitCall",
	KindCoresume: "coresume", KindCoyield: "coyield",
}

func (k Kind) String() string {
	if int(k) >= len(kindNames) || kindNames[k] == "" {
		return fmt.Sprintf("kind(%d)", k)
	}
	return kindNames[k]
}

// TypeRef references a runtime type by id, or one of the sentinel values
// below for types codegen special-cases during specialization.
type TypeRef int32

const (
	TypeUnknown TypeRef = -1
	TypeAny     TypeRef = 0
	TypeInt     TypeRef = 1
	TypeFloat   TypeRef = 2
	TypeBool    TypeRef = 3
	TypeString  TypeRef = 4
	TypeNone    TypeRef = 5
)

// BinOp identifies a preBinOp's operator.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinEq
	BinNeq
	BinLt
	BinLte
	BinGt
	BinGte
)

// UnOp identifies a preUnOp's operator.
type UnOp uint8

const (
	UnNeg UnOp = iota
	UnNot
	UnBitNot
)

// Node is implemented by every statement and expression tree node. The
// sequence-of-statements accessor in §6 resolves to looking up a node by
// its NodeID and switching on Kind().
type Node interface {
	ID() NodeID
	Kind() Kind
	Loc() uint32 // source-location handle, used only for debug symbols
	Type() TypeRef
}

// base is embedded by every concrete node type.
type base struct {
	id   NodeID
	kind Kind
	loc  uint32
	typ  TypeRef
}

func (b *base) ID() NodeID    { return b.id }
func (b *base) Kind() Kind    { return b.kind }
func (b *base) Loc() uint32   { return b.loc }
func (b *base) Type() TypeRef { return b.typ }

// Tree owns every node produced for one compilation unit and is the
// concrete realization of §6's "sequence-of-statements accessor returning
// statement nodes by id and kind tag" contract.
type Tree struct {
	nodes []Node
	main  []NodeID // top-level statement sequence (mainBlock body)
}

// NewTree returns an empty Tree.
func NewTree() *Tree { return &Tree{} }

// Node looks up a node by id.
func (t *Tree) Node(id NodeID) Node { return t.nodes[id] }

// Main returns the top-level statement sequence.
func (t *Tree) Main() []NodeID { return t.main }

// add appends n, assigning it the next NodeID, and returns its id.
func (t *Tree) add(n Node) NodeID {
	id := NodeID(len(t.nodes))
	switch v := n.(type) {
	case interface{ setID(NodeID) }:
		v.setID(id)
	}
	t.nodes = append(t.nodes, n)
	return id
}

func (b *base) setID(id NodeID) { b.id = id }
