// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a chunk, one instruction
// per line, adapted from the teacher VM's fixed-width disassembler to this
// format's variable-width instructions.
func Disassemble(c *Chunk) string {
	var b strings.Builder
	pc := 0
	for pc < len(c.Code) {
		op := Op(c.Code[pc])
		fmt.Fprintf(&b, "[%04d] %-16s", pc, op)
		pc++

		if op == OpClosure {
			fnIdx := c.ReadU16(pc)
			pc += 2
			upCount := c.ReadU8(pc)
			pc++
			fmt.Fprintf(&b, " fn=%d upvalues=%d", fnIdx, upCount)
			for i := 0; i < int(upCount); i++ {
				isLocal := c.ReadU8(pc)
				pc++
				idx := c.ReadU16(pc)
				pc += 2
				kind := "upvalue"
				if isLocal != 0 {
					kind = "local"
				}
				fmt.Fprintf(&b, " (%s %d)", kind, idx)
			}
			b.WriteByte('\n')
			continue
		}

		switch op.OperandBytes() {
		case 1:
			fmt.Fprintf(&b, " %d", c.ReadU8(pc))
			pc++
		case 2:
			fmt.Fprintf(&b, " %d", c.ReadU16(pc))
			pc += 2
		case 4:
			fmt.Fprintf(&b, " %d, %d", c.ReadU16(pc), c.ReadU16(pc+2))
			pc += 4
		}
		b.WriteByte('\n')
	}
	return b.String()
}
