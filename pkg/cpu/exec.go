package cpu

import "chip8/pkg/grid"

type execFunc func(c *CPU, in Instruction) error

// opTable maps every Op to its state transition. OpInvalid has no entry.
var opTable = [opCount]execFunc{
	OpCLS:     opCLS,
	OpRET:     opRET,
	OpJP:      opJP,
	OpCALL:    opCALL,
	OpSEByte:  opSEByte,
	OpSNEByte: opSNEByte,
	OpSEReg:   opSEReg,
	OpLDByte:  opLDByte,
	OpADDByte: opADDByte,
	OpLDReg:   opLDReg,
	OpOR:      opOR,
	OpAND:     opAND,
	OpXOR:     opXOR,
	OpADDReg:  opADDReg,
	OpSUB:     opSUB,
	OpSHR:     opSHR,
	OpSUBN:    opSUBN,
	OpSHL:     opSHL,
	OpSNEReg:  opSNEReg,
	OpLDI:     opLDI,
	OpJPV0:    opJPV0,
	OpRND:     opRND,
	OpDRW:     opDRW,
	OpSKP:     opSKP,
	OpSKNP:    opSKNP,
	OpLDVxDT:  opLDVxDT,
	OpLDVxK:   opLDVxK,
	OpLDDTVx:  opLDDTVx,
	OpLDSTVx:  opLDSTVx,
	OpADDI:    opADDI,
	OpLDF:     opLDF,
	OpLDB:     opLDB,
	OpLDIVx:   opLDIVx,
	OpLDVxI:   opLDVxI,
}

func execute(c *CPU, in Instruction) error {
	if in.Op == OpInvalid || in.Op >= opCount {
		return ErrUnknownOpcode
	}
	return opTable[in.Op](c, in)
}

func (c *CPU) skipIf(cond bool) {
	if cond {
		c.PC += 2
	}
}

func opCLS(c *CPU, _ Instruction) error {
	c.display = [FramebufferSize]byte{}
	c.redraw = true
	return nil
}

func opRET(c *CPU, _ Instruction) error {
	if c.SP == 0 {
		return ErrStackUnderflow
	}
	c.SP--
	c.PC = c.Stack[c.SP]
	return nil
}

func opJP(c *CPU, in Instruction) error {
	c.PC = in.NNN
	return nil
}

func opCALL(c *CPU, in Instruction) error {
	if int(c.SP) >= StackSize {
		return ErrStackOverflow
	}
	c.Stack[c.SP] = c.PC
	c.SP++
	c.PC = in.NNN
	return nil
}

func opSEByte(c *CPU, in Instruction) error {
	c.skipIf(c.V[in.X] == in.NN)
	return nil
}

func opSNEByte(c *CPU, in Instruction) error {
	c.skipIf(c.V[in.X] != in.NN)
	return nil
}

func opSEReg(c *CPU, in Instruction) error {
	c.skipIf(c.V[in.X] == c.V[in.Y])
	return nil
}

func opSNEReg(c *CPU, in Instruction) error {
	c.skipIf(c.V[in.X] != c.V[in.Y])
	return nil
}

func opLDByte(c *CPU, in Instruction) error {
	c.V[in.X] = in.NN
	return nil
}

func opADDByte(c *CPU, in Instruction) error {
	c.V[in.X] += in.NN
	return nil
}

func opLDReg(c *CPU, in Instruction) error {
	c.V[in.X] = c.V[in.Y]
	return nil
}

func opOR(c *CPU, in Instruction) error {
	c.V[in.X] |= c.V[in.Y]
	return nil
}

func opAND(c *CPU, in Instruction) error {
	c.V[in.X] &= c.V[in.Y]
	return nil
}

func opXOR(c *CPU, in Instruction) error {
	c.V[in.X] ^= c.V[in.Y]
	return nil
}

// The flag-producing 8XY_ forms write VF after Vx, so with X == F the
// flag is what remains.

func opADDReg(c *CPU, in Instruction) error {
	sum := uint16(c.V[in.X]) + uint16(c.V[in.Y])
	c.V[in.X] = uint8(sum)
	c.V[RegF] = flag(sum > 0xFF)
	return nil
}

func opSUB(c *CPU, in Instruction) error {
	vx, vy := c.V[in.X], c.V[in.Y]
	c.V[in.X] = vx - vy
	c.V[RegF] = flag(vx > vy)
	return nil
}

func opSHR(c *CPU, in Instruction) error {
	vx := c.V[in.X]
	c.V[in.X] = vx >> 1
	c.V[RegF] = vx & 0x01
	return nil
}

func opSUBN(c *CPU, in Instruction) error {
	vx, vy := c.V[in.X], c.V[in.Y]
	c.V[in.X] = vy - vx
	c.V[RegF] = flag(vy > vx)
	return nil
}

func opSHL(c *CPU, in Instruction) error {
	vx := c.V[in.X]
	c.V[in.X] = vx << 1
	c.V[RegF] = (vx >> 7) & 0x01
	return nil
}

func opLDI(c *CPU, in Instruction) error {
	c.I = in.NNN
	return nil
}

func opJPV0(c *CPU, in Instruction) error {
	c.PC = uint16(c.V[0]) + in.NNN
	return nil
}

func opRND(c *CPU, in Instruction) error {
	c.V[in.X] = uint8(c.rng.Uint32()) & in.NN
	return nil
}

func opDRW(c *CPU, in Instruction) error {
	x0 := int(c.V[in.X]) % ScreenWidth
	y0 := int(c.V[in.Y]) % ScreenHeight
	c.V[RegF] = 0

	for row := 0; row < int(in.N); row++ {
		y := y0 + row
		if y >= ScreenHeight {
			if !c.Quirks.WrapSprites {
				break
			}
			y %= ScreenHeight
		}

		bits := c.Memory[(int(c.I)+row)&addrMask]
		for col := 0; col < 8; col++ {
			if bits&(0x80>>col) == 0 {
				continue
			}
			x := x0 + col
			if x >= ScreenWidth {
				if !c.Quirks.WrapSprites {
					break
				}
				x %= ScreenWidth
			}

			idx := grid.Index(x, y, ScreenWidth)
			if c.display[idx] == 1 {
				c.V[RegF] = 1
			}
			c.display[idx] ^= 1
		}
	}

	c.redraw = true
	return nil
}

func opSKP(c *CPU, in Instruction) error {
	c.skipIf(c.keys[c.V[in.X]&0x0F])
	return nil
}

func opSKNP(c *CPU, in Instruction) error {
	c.skipIf(!c.keys[c.V[in.X]&0x0F])
	return nil
}

func opLDVxDT(c *CPU, in Instruction) error {
	c.V[in.X] = c.DelayTimer
	return nil
}

// opLDVxK re-executes until a key press edge has been latched by SetKey.
func opLDVxK(c *CPU, in Instruction) error {
	if c.keyLatch >= 0 {
		c.V[in.X] = uint8(c.keyLatch)
		c.keyLatch = -1
		c.Waiting = false
		return nil
	}
	c.Waiting = true
	c.PC -= 2
	return nil
}

func opLDDTVx(c *CPU, in Instruction) error {
	c.DelayTimer = c.V[in.X]
	return nil
}

func opLDSTVx(c *CPU, in Instruction) error {
	c.SoundTimer = c.V[in.X]
	return nil
}

func opADDI(c *CPU, in Instruction) error {
	c.I += uint16(c.V[in.X])
	return nil
}

func opLDF(c *CPU, in Instruction) error {
	c.I = FontBase + FontGlyphSize*uint16(c.V[in.X])
	return nil
}

func opLDB(c *CPU, in Instruction) error {
	v := c.V[in.X]
	c.Memory[int(c.I)&addrMask] = v / 100
	c.Memory[(int(c.I)+1)&addrMask] = (v / 10) % 10
	c.Memory[(int(c.I)+2)&addrMask] = v % 10
	return nil
}

func opLDIVx(c *CPU, in Instruction) error {
	for i := 0; i <= int(in.X); i++ {
		c.Memory[(int(c.I)+i)&addrMask] = c.V[i]
	}
	if c.Quirks.LoadStoreIncrementsI {
		c.I += uint16(in.X) + 1
	}
	return nil
}

func opLDVxI(c *CPU, in Instruction) error {
	for i := 0; i <= int(in.X); i++ {
		c.V[i] = c.Memory[(int(c.I)+i)&addrMask]
	}
	if c.Quirks.LoadStoreIncrementsI {
		c.I += uint16(in.X) + 1
	}
	return nil
}

func flag(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
