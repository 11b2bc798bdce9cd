package cpu

// executeCB decodes and runs a CB-prefixed opcode. The CB table is
// fully regular: bits 7-6 select the operation group (rotate/shift,
// BIT, RES, SET), bits 5-3 select the sub-operation or bit index, and
// bits 2-0 select the register operand (with 6 meaning (HL)).
func (c *CPU) executeCB(opcode uint8) int {
	group := opcode >> 6
	bitIndex := (opcode >> 3) & 7
	reg := opcode & 7

	base := 8
	if reg == 6 {
		base = 16
	}

	switch group {
	case 0: // rotate/shift/swap
		if reg == 6 {
			v := c.bus.Read(c.hl())
			c.applyShift(bitIndex, &v)
			c.bus.Write(c.hl(), v)
			return base
		}
		v := c.reg8(reg)
		c.applyShift(bitIndex, &v)
		c.setReg8(reg, v)
		return base
	case 1: // BIT b,r
		c.bitTest(bitIndex, c.reg8(reg))
		if reg == 6 {
			return 12
		}
		return 8
	case 2: // RES b,r
		v := bitReset(bitIndex, c.reg8(reg))
		c.setReg8(reg, v)
		return base
	default: // SET b,r
		v := bitSet(bitIndex, c.reg8(reg))
		c.setReg8(reg, v)
		return base
	}
}

// applyShift dispatches one of the eight rotate/shift/swap operations
// selected by a CB-group-0 opcode's sub-op field.
func (c *CPU) applyShift(subOp uint8, v *uint8) {
	switch subOp {
	case 0:
		c.rlc(v)
	case 1:
		c.rrc(v)
	case 2:
		c.rl(v)
	case 3:
		c.rr(v)
	case 4:
		c.sla(v)
	case 5:
		c.sra(v)
	case 6:
		c.swap(v)
	case 7:
		c.srl(v)
	}
}
