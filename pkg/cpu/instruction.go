package cpu

import "fmt"

// Op identifies one decoded instruction form.
type Op uint8

const (
	OpInvalid Op = iota
	OpCLS        // 00E0
	OpRET        // 00EE
	OpJP         // 1NNN
	OpCALL       // 2NNN
	OpSEByte     // 3XNN
	OpSNEByte    // 4XNN
	OpSEReg      // 5XY0
	OpLDByte     // 6XNN
	OpADDByte    // 7XNN
	OpLDReg      // 8XY0
	OpOR         // 8XY1
	OpAND        // 8XY2
	OpXOR        // 8XY3
	OpADDReg     // 8XY4
	OpSUB        // 8XY5
	OpSHR        // 8XY6
	OpSUBN       // 8XY7
	OpSHL        // 8XYE
	OpSNEReg     // 9XY0
	OpLDI        // ANNN
	OpJPV0       // BNNN
	OpRND        // CXNN
	OpDRW        // DXYN
	OpSKP        // EX9E
	OpSKNP       // EXA1
	OpLDVxDT     // FX07
	OpLDVxK      // FX0A
	OpLDDTVx     // FX15
	OpLDSTVx     // FX18
	OpADDI       // FX1E
	OpLDF        // FX29
	OpLDB        // FX33
	OpLDIVx      // FX55
	OpLDVxI      // FX65

	opCount
)

// Instruction is a decoded opcode. Every operand field is filled in
// regardless of Op; the execution function reads the ones it needs.
type Instruction struct {
	Op  Op
	Raw uint16
	X   uint8
	Y   uint8
	N   uint8
	NN  uint8
	NNN uint16
}

// Decode splits opcode into its fields and classifies it. Opcodes outside
// the base instruction set decode to OpInvalid.
func Decode(opcode uint16) Instruction {
	in := Instruction{
		Raw: opcode,
		X:   uint8(opcode>>8) & 0x0F,
		Y:   uint8(opcode>>4) & 0x0F,
		N:   uint8(opcode) & 0x0F,
		NN:  uint8(opcode),
		NNN: opcode & 0x0FFF,
	}

	switch opcode >> 12 {
	case 0x0:
		switch opcode {
		case 0x00E0:
			in.Op = OpCLS
		case 0x00EE:
			in.Op = OpRET
		}
	case 0x1:
		in.Op = OpJP
	case 0x2:
		in.Op = OpCALL
	case 0x3:
		in.Op = OpSEByte
	case 0x4:
		in.Op = OpSNEByte
	case 0x5:
		if in.N == 0 {
			in.Op = OpSEReg
		}
	case 0x6:
		in.Op = OpLDByte
	case 0x7:
		in.Op = OpADDByte
	case 0x8:
		switch in.N {
		case 0x0:
			in.Op = OpLDReg
		case 0x1:
			in.Op = OpOR
		case 0x2:
			in.Op = OpAND
		case 0x3:
			in.Op = OpXOR
		case 0x4:
			in.Op = OpADDReg
		case 0x5:
			in.Op = OpSUB
		case 0x6:
			in.Op = OpSHR
		case 0x7:
			in.Op = OpSUBN
		case 0xE:
			in.Op = OpSHL
		}
	case 0x9:
		if in.N == 0 {
			in.Op = OpSNEReg
		}
	case 0xA:
		in.Op = OpLDI
	case 0xB:
		in.Op = OpJPV0
	case 0xC:
		in.Op = OpRND
	case 0xD:
		in.Op = OpDRW
	case 0xE:
		switch in.NN {
		case 0x9E:
			in.Op = OpSKP
		case 0xA1:
			in.Op = OpSKNP
		}
	case 0xF:
		switch in.NN {
		case 0x07:
			in.Op = OpLDVxDT
		case 0x0A:
			in.Op = OpLDVxK
		case 0x15:
			in.Op = OpLDDTVx
		case 0x18:
			in.Op = OpLDSTVx
		case 0x1E:
			in.Op = OpADDI
		case 0x29:
			in.Op = OpLDF
		case 0x33:
			in.Op = OpLDB
		case 0x55:
			in.Op = OpLDIVx
		case 0x65:
			in.Op = OpLDVxI
		}
	}
	return in
}

// String renders the instruction in the conventional mnemonic syntax that
// pkg/asm accepts. Invalid words render as a .WORD directive.
func (in Instruction) String() string {
	switch in.Op {
	case OpCLS:
		return "CLS"
	case OpRET:
		return "RET"
	case OpJP:
		return fmt.Sprintf("JP 0x%03X", in.NNN)
	case OpCALL:
		return fmt.Sprintf("CALL 0x%03X", in.NNN)
	case OpSEByte:
		return fmt.Sprintf("SE V%X, 0x%02X", in.X, in.NN)
	case OpSNEByte:
		return fmt.Sprintf("SNE V%X, 0x%02X", in.X, in.NN)
	case OpSEReg:
		return fmt.Sprintf("SE V%X, V%X", in.X, in.Y)
	case OpLDByte:
		return fmt.Sprintf("LD V%X, 0x%02X", in.X, in.NN)
	case OpADDByte:
		return fmt.Sprintf("ADD V%X, 0x%02X", in.X, in.NN)
	case OpLDReg:
		return fmt.Sprintf("LD V%X, V%X", in.X, in.Y)
	case OpOR:
		return fmt.Sprintf("OR V%X, V%X", in.X, in.Y)
	case OpAND:
		return fmt.Sprintf("AND V%X, V%X", in.X, in.Y)
	case OpXOR:
		return fmt.Sprintf("XOR V%X, V%X", in.X, in.Y)
	case OpADDReg:
		return fmt.Sprintf("ADD V%X, V%X", in.X, in.Y)
	case OpSUB:
		return fmt.Sprintf("SUB V%X, V%X", in.X, in.Y)
	case OpSHR:
		return fmt.Sprintf("SHR V%X, V%X", in.X, in.Y)
	case OpSUBN:
		return fmt.Sprintf("SUBN V%X, V%X", in.X, in.Y)
	case OpSHL:
		return fmt.Sprintf("SHL V%X, V%X", in.X, in.Y)
	case OpSNEReg:
		return fmt.Sprintf("SNE V%X, V%X", in.X, in.Y)
	case OpLDI:
		return fmt.Sprintf("LD I, 0x%03X", in.NNN)
	case OpJPV0:
		return fmt.Sprintf("JP V0, 0x%03X", in.NNN)
	case OpRND:
		return fmt.Sprintf("RND V%X, 0x%02X", in.X, in.NN)
	case OpDRW:
		return fmt.Sprintf("DRW V%X, V%X, %d", in.X, in.Y, in.N)
	case OpSKP:
		return fmt.Sprintf("SKP V%X", in.X)
	case OpSKNP:
		return fmt.Sprintf("SKNP V%X", in.X)
	case OpLDVxDT:
		return fmt.Sprintf("LD V%X, DT", in.X)
	case OpLDVxK:
		return fmt.Sprintf("LD V%X, K", in.X)
	case OpLDDTVx:
		return fmt.Sprintf("LD DT, V%X", in.X)
	case OpLDSTVx:
		return fmt.Sprintf("LD ST, V%X", in.X)
	case OpADDI:
		return fmt.Sprintf("ADD I, V%X", in.X)
	case OpLDF:
		return fmt.Sprintf("LD F, V%X", in.X)
	case OpLDB:
		return fmt.Sprintf("LD B, V%X", in.X)
	case OpLDIVx:
		return fmt.Sprintf("LD [I], V%X", in.X)
	case OpLDVxI:
		return fmt.Sprintf("LD V%X, [I]", in.X)
	}
	return fmt.Sprintf(".WORD 0x%04X", in.Raw)
}

// IsSkip reports whether the instruction conditionally skips the next one.
func (in Instruction) IsSkip() bool {
	switch in.Op {
	case OpSEByte, OpSNEByte, OpSEReg, OpSNEReg, OpSKP, OpSKNP:
		return true
	}
	return false
}
