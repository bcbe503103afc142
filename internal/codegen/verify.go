// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/probechain/cyber-lang/internal/bytecode"
)

// VerifyError describes a bytecode verification failure.
type VerifyError struct {
	Offset  int
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at offset %d: %s", e.Offset, e.Message)
}

// Verify checks a generated Buffer for safety violations that would
// otherwise surface as a VM panic or memory corruption: unknown opcodes,
// out-of-bounds constant references, out-of-bounds jump targets, and a
// function body that can fall off its own end without a terminator. It
// runs after generation so a generator bug is caught at compile time
// rather than at the first unlucky execution path.
//
// Verify walks each function's own instruction range independently
// (rather than the whole buffer as one unit) since multiple functions
// share one Buffer and each must end in its own terminator.
func Verify(buf *bytecode.Buffer) []VerifyError {
	var errs []VerifyError
	if len(buf.Code) == 0 {
		return errs
	}

	for i, fn := range buf.Funcs {
		end := len(buf.Code)
		if i+1 < len(buf.Funcs) {
			end = buf.Funcs[i+1].Offset
		}
		errs = append(errs, verifyRange(buf, fn.Offset, end)...)
	}
	return errs
}

func verifyRange(buf *bytecode.Buffer, start, end int) []VerifyError {
	var errs []VerifyError
	lastOp := bytecode.Op(0)
	lastOffset := start

	for offset := start; offset < end; offset += 4 {
		if offset+4 > end {
			errs = append(errs, VerifyError{Offset: offset, Message: "truncated instruction"})
			break
		}
		op := bytecode.Op(buf.Code[offset])
		if op.String() == "UNKNOWN" {
			errs = append(errs, VerifyError{Offset: offset, Message: fmt.Sprintf("unknown opcode: %d", op)})
			continue
		}

		if op == bytecode.OpConstOp || op == bytecode.OpConstRetain {
			idx := binary.LittleEndian.Uint16(buf.Code[offset+2 : offset+4])
			if int(idx) >= len(buf.Constants) {
				errs = append(errs, VerifyError{
					Offset:  offset,
					Message: fmt.Sprintf("constant index %d out of bounds (pool size %d)", idx, len(buf.Constants)),
				})
			}
		}

		if isJump(op) {
			target := int(binary.LittleEndian.Uint16(buf.Code[offset+2:offset+4])) * 4
			if target < 0 || target >= len(buf.Code) {
				errs = append(errs, VerifyError{
					Offset:  offset,
					Message: fmt.Sprintf("jump target %d out of bounds", target),
				})
			}
		}

		lastOp, lastOffset = op, offset
	}

	if !isTerminator(lastOp) {
		errs = append(errs, VerifyError{
			Offset:  lastOffset,
			Message: "function does not end with ret0, ret1, or a jump",
		})
	}
	return errs
}

func isJump(op bytecode.Op) bool {
	switch op {
	case bytecode.OpJump, bytecode.OpJumpCond, bytecode.OpJumpNotCond, bytecode.OpJumpNone:
		return true
	}
	return false
}

func isTerminator(op bytecode.Op) bool {
	switch op {
	case bytecode.OpRet0, bytecode.OpRet1, bytecode.OpJump, bytecode.OpEnd, bytecode.OpCoreturn, bytecode.OpThrow:
		return true
	}
	return false
}
