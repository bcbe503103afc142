// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble renders the instruction stream as human-readable text, one
// 4-byte word per line, in the "OFFSET  MNEMONIC  operands" layout
// cmd/cyberdump prints. Trailing operand bytes appended with EmitRaw are
// not recognized: they are decoded as if they began further instructions.
func (b *Buffer) Disassemble() string {
	var sb strings.Builder
	for pc := 0; pc < len(b.Code); pc += 4 {
		op := Op(b.Code[pc])
		a := b.Code[pc+1]
		fmt.Fprintf(&sb, "%6d  %-20s", pc, op.String())
		if op.IsWideImmediate() {
			imm := binary.LittleEndian.Uint16(b.Code[pc+2 : pc+4])
			fmt.Fprintf(&sb, " r%d, %d\n", a, imm)
		} else {
			c1, c2 := b.Code[pc+2], b.Code[pc+3]
			fmt.Fprintf(&sb, " r%d, r%d, r%d\n", a, c1, c2)
		}
	}
	return sb.String()
}
