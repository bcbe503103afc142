// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

// Package codegen translates a structured internal/ir tree into
// internal/bytecode, the dominant component of the execution core (§2,
// 45% share). It manages a per-function register window (prelude, callee,
// params, locals, temps), a retain/release discipline tracked on an unwind
// stack, destination-constrained expression generation, and the control-
// flow/closure/coroutine lowerings described in §4.C.
//
// Grounded on the teacher's codegen.Generator (register map, patch list,
// emit4/emitImm) generalized from an SSA-value-to-register map to a fixed
// register-window layout, since this IR's locals already carry slot
// assignments from the (out-of-scope) semantic-analysis stage and codegen's
// job is allocating only the temp region above them.
package codegen

import (
	"fmt"

	"github.com/go-stack/stack"

	"github.com/probechain/cyber-lang/internal/bytecode"
	"github.com/probechain/cyber-lang/internal/ir"
	"github.com/probechain/cyber-lang/internal/value"
)

// CallArgStart is the register offset of the callee slot relative to a
// call's reserved ret-slot: [ret, ret-info, ret-addr, prev-fp, callee,
// args...] (§4.C "call convention", §8 invariant).
const CallArgStart = 4

const (
	preludeSize = 4
	calleeOff   = preludeSize // register 4 relative to frame base
	paramOff    = calleeOff + 1
)

// InternalError reports a generator invariant violation — e.g. an unwind
// stack height mismatch at statement end — carrying a captured call stack
// so a report from a trace build can be traced to the bug without
// reproducing it interactively.
type InternalError struct {
	Message string
	Stack   stack.CallStack
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("codegen: internal error: %s", e.Message)
}

func newInternalError(format string, args ...interface{}) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...), Stack: stack.Trace()}
}

// localInfo tracks the §4.C local-info table entry for one local slot.
type localInfo struct {
	owned      bool // false for read-only params
	rcCandidate bool
	lifted     bool // captured by a nested lambda; slot holds a box
}

// destKind identifies which of §4.C's destination constraints an
// expression is being generated against.
type destKind uint8

const (
	destSimple destKind = iota
	destExact
	destLocal
	destBoxedLocal
	destVarSym
	destCaptured
	destPrefer
)

// dest is a destination constraint: where a generated expression's result
// must land.
type dest struct {
	kind   destKind
	reg    uint8
	retain bool
	id     uint16
}

func simple() dest              { return dest{kind: destSimple} }
func exact(r uint8) dest        { return dest{kind: destExact, reg: r} }
func local(r uint8, retain bool) dest { return dest{kind: destLocal, reg: r, retain: retain} }
func boxedLocal(r uint8, retain bool) dest {
	return dest{kind: destBoxedLocal, reg: r, retain: retain}
}
func varSym(id uint16) dest    { return dest{kind: destVarSym, id: id} }
func captured(idx uint16) dest { return dest{kind: destCaptured, id: idx} }
func prefer(r uint8) dest      { return dest{kind: destPrefer, reg: r} }

// genValue is the record produced by generating an expression: where its
// result lives, whether that value is retained, and whether the register
// is a temp (eligible for release/reuse) versus a named local.
type genValue struct {
	reg      uint8
	retained bool
	temp     bool
}

// loopPatches tracks pending break/continue jump patches for the
// innermost enclosing loop.
type loopPatches struct {
	breaks    []int
	continues []int
	contLabel string
}

// Generator walks one internal/ir.Tree and emits one internal/bytecode.Buffer.
type Generator struct {
	tree *ir.Tree
	buf  *bytecode.Buffer

	locals    []localInfo
	numParams int

	nextTemp uint8
	maxTemp  uint8

	// unwind is the generator's bookkeeping of which temp registers hold a
	// retained value that must be released before the current statement
	// completes, satisfying §4.C's "retain discipline" / §8's stack-height
	// invariant.
	unwind []uint8

	labelSeq int
	loops    []*loopPatches
}

// New returns a Generator over tree, emitting into a fresh Buffer.
func New(tree *ir.Tree) *Generator {
	return &Generator{tree: tree, buf: bytecode.New()}
}

func (g *Generator) nextLabel(prefix string) string {
	g.labelSeq++
	return fmt.Sprintf("%s_%d", prefix, g.labelSeq)
}

// GenerateMain compiles the tree's top-level statement sequence as the
// program's entry function and returns the completed Buffer.
func (g *Generator) GenerateMain() (*bytecode.Buffer, error) {
	if _, err := g.generateFunc("main", 0, nil, g.tree.Main()); err != nil {
		return nil, err
	}
	if err := g.buf.PatchLabels(); err != nil {
		return nil, err
	}
	return g.buf, nil
}

// GenerateFunc compiles a single funcBlock node, appending it to the
// shared Buffer, and returns its FuncMeta table index.
func (g *Generator) GenerateFunc(id ir.NodeID) (uint16, error) {
	fb, ok := g.tree.Node(id).(*ir.FuncBlock)
	if !ok {
		return 0, newInternalError("GenerateFunc called on non-funcBlock node %d", id)
	}
	return g.generateFunc(fb.Name, fb.NumParams, fb.Captures, fb.Body)
}

func (g *Generator) generateFunc(name string, numParams int, captures []int, body []ir.NodeID) (uint16, error) {
	saved := *g
	defer func() {
		// restore the caller's register/unwind state; Buffer accumulation
		// (g.buf) is intentionally shared across nested generateFunc calls.
		g.locals, g.numParams = saved.locals, saved.numParams
		g.nextTemp, g.maxTemp = saved.nextTemp, saved.maxTemp
		g.unwind, g.loops = saved.unwind, saved.loops
	}()

	g.numParams = numParams
	g.locals = make([]localInfo, countLocals(g.tree, body))
	for i := range g.locals {
		g.locals[i] = localInfo{owned: true, rcCandidate: true}
	}
	g.nextTemp = uint8(paramOff + numParams + len(g.locals))
	g.maxTemp = g.nextTemp
	tempStart := int(g.nextTemp)
	g.unwind = nil
	g.loops = nil

	offset := g.buf.Pos()
	for _, stmtID := range body {
		if err := g.genStmt(stmtID); err != nil {
			return 0, err
		}
	}
	// Every function body falls through to an implicit `ret0` if control
	// reaches the end without an explicit return (§6 retStmt semantics).
	g.buf.Emit4(bytecode.OpRet0, 0, 0, 0)

	idx := g.buf.AddFunc(bytecode.FuncMeta{
		Name:      name,
		Offset:    offset,
		StackSize: int(g.maxTemp),
		Arity:     numParams,
		TempStart: tempStart,
	})
	return idx, nil
}

// countLocals recursively scans body for declareLocal nodes to size the
// local-var register region; nested control-flow bodies share the same
// flat local numbering as their enclosing function (slots are assigned by
// the out-of-scope semantic-analysis stage and never reused across
// sibling blocks here, trading some register-window density for a far
// simpler allocator).
func countLocals(tree *ir.Tree, ids []ir.NodeID) int {
	max := 0
	var walk func([]ir.NodeID)
	walk = func(ids []ir.NodeID) {
		for _, id := range ids {
			switch n := tree.Node(id).(type) {
			case *ir.DeclareLocal:
				if n.Slot+1 > max {
					max = n.Slot + 1
				}
			case *ir.IfStmt:
				for _, c := range n.Cases {
					walk(c.Body)
				}
			case *ir.WhileCondStmt:
				walk(n.Body)
			case *ir.WhileInfStmt:
				walk(n.Body)
			case *ir.WhileOptStmt:
				walk(n.Body)
			case *ir.ForIterStmt:
				walk(n.Body)
			case *ir.ForRangeStmt:
				walk(n.Body)
			case *ir.SwitchStmt:
				for _, c := range n.Cases {
					walk(c.Body)
				}
			case *ir.TryStmt:
				walk(n.Body)
				walk(n.Catch)
			}
		}
	}
	walk(ids)
	return max
}

func (g *Generator) paramReg(i int) uint8 { return uint8(paramOff + i) }
func (g *Generator) localReg(slot int) uint8 { return uint8(paramOff + g.numParams + slot) }

func (g *Generator) allocTemp() uint8 {
	r := g.nextTemp
	g.nextTemp++
	if g.nextTemp > g.maxTemp {
		g.maxTemp = g.nextTemp
	}
	return r
}

func (g *Generator) freeTemp() {
	g.nextTemp--
}

// markRetained records that reg holds a retained value pending release,
// per §4.C's unwind-stack discipline.
func (g *Generator) markRetained(reg uint8) {
	g.unwind = append(g.unwind, reg)
}

// releaseUnwindTo releases every retained temp pushed since height, in
// LIFO order, emitting a fused releaseN when more than one is pending.
func (g *Generator) releaseUnwindTo(height int) {
	pending := g.unwind[height:]
	switch len(pending) {
	case 0:
		return
	case 1:
		g.buf.Emit4(bytecode.OpRelease, pending[0], 0, 0)
	default:
		g.buf.Emit4(bytecode.OpReleaseN, uint8(len(pending)), 0, 0)
		g.buf.EmitRaw(pending...)
	}
	g.unwind = g.unwind[:height]
}

// resolveDest materializes a generated value (currently sitting in
// `from`, retained per `retained`) into the register/location the
// destination constraint names, emitting a copy/retain/box instruction if
// necessary, and returns the final genValue.
func (g *Generator) resolveDest(d dest, from uint8, retained bool) genValue {
	switch d.kind {
	case destSimple:
		return genValue{reg: from, retained: retained, temp: true}
	case destExact:
		if d.reg != from {
			g.buf.Emit4(bytecode.OpCopy, d.reg, from, 0)
		}
		return genValue{reg: d.reg, retained: retained, temp: false}
	case destPrefer:
		if d.reg != from {
			g.buf.Emit4(bytecode.OpCopy, d.reg, from, 0)
			return genValue{reg: d.reg, retained: retained, temp: false}
		}
		return genValue{reg: from, retained: retained, temp: true}
	case destLocal:
		if d.retain {
			g.buf.Emit4(bytecode.OpCopyRetainRelease, d.reg, from, 0)
		} else {
			g.buf.Emit4(bytecode.OpCopy, d.reg, from, 0)
		}
		return genValue{reg: d.reg, retained: false, temp: false}
	case destBoxedLocal:
		if d.retain {
			g.buf.Emit4(bytecode.OpSetBoxValueRelease, d.reg, from, 0)
		} else {
			g.buf.Emit4(bytecode.OpSetBoxValue, d.reg, from, 0)
		}
		return genValue{reg: d.reg, retained: false, temp: false}
	case destVarSym:
		g.buf.EmitImm(bytecode.OpSetStaticVar, from, d.id)
		return genValue{reg: from, retained: false, temp: true}
	case destCaptured:
		g.buf.Emit4(bytecode.OpSetCaptured, calleeOff, uint8(d.id), from)
		return genValue{reg: from, retained: false, temp: true}
	}
	return genValue{reg: from, retained: retained, temp: true}
}

// runtimeTypeIDForRef maps a static type annotation from the (out-of-scope)
// semantic-analysis stage to the runtime type id a typeCheck/callTypeCheck
// opcode compares a register's actual value against (§4.D). TypeAny and
// TypeUnknown report ok=false: a call site with no concrete static type for
// an operand emits no check there at all, rather than one that can never
// fail.
func runtimeTypeIDForRef(t ir.TypeRef) (id uint32, ok bool) {
	switch t {
	case ir.TypeInt:
		return value.ScalarTypeID(value.KindInteger), true
	case ir.TypeFloat:
		return value.ScalarTypeID(value.KindFloat), true
	case ir.TypeBool:
		return value.ScalarTypeID(value.KindBool), true
	case ir.TypeNone:
		return value.ScalarTypeID(value.KindNone), true
	case ir.TypeString:
		return value.StringTypeID, true
	case ir.TypeAny, ir.TypeUnknown:
		return 0, false
	default:
		// A concrete object/enum type already lives in internal/heap's own
		// type-id space (FirstUserTypeID and up) — reuse it directly instead
		// of interning a second id for the same type.
		if t >= 0 {
			return uint32(t), true
		}
		return 0, false
	}
}

// genOperandTypeChecks inspects the static type of each node in ids and
// emits type-check opcodes for operands in regs whose type is concretely
// known, immediately before the call instruction that consumes them. A
// single checkable operand gets a plain typeCheck; two or more get one
// fused callTypeCheck over the contiguous register run, matching
// callObjSym/callSym's own documented sig16 call-site convention (§4.D,
// §8's "wrong static type raises a panic" requirement).
func (g *Generator) genOperandTypeChecks(ids []ir.NodeID, regs []uint8) {
	if len(ids) == 0 {
		return
	}
	typeIDs := make([]uint32, len(ids))
	anyKnown := false
	for i, id := range ids {
		typeIDs[i] = bytecode.NoTypeCheck
		if t, ok := runtimeTypeIDForRef(g.tree.Node(id).Type()); ok {
			typeIDs[i] = t
			anyKnown = true
		}
	}
	if !anyKnown {
		return
	}
	if len(ids) == 1 {
		g.buf.EmitImm(bytecode.OpTypeCheck, regs[0], uint16(typeIDs[0]))
		return
	}
	sig := bytecode.Signature{ParamTypeIDs: typeIDs}
	sigID := g.buf.InternSignature(sig)
	if sigID == 0 {
		return
	}
	g.buf.EmitImm(bytecode.OpCallTypeCheck, regs[0], sigID)
	g.buf.EmitRaw(uint8(len(regs)))
}
