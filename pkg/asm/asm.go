package asm

import (
	"chip8/pkg/cpu"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrOperands           = errors.New("invalid operands")
	ErrUndefinedLabel     = errors.New("undefined label")
	ErrOutOfRange         = errors.New("value out of range")
	ErrProgramTooLarge    = errors.New("program too large")
)

// maxAddress is one past the last byte a program may occupy.
const maxAddress = cpu.MemorySize

// zeroOperandOps need no operands at all.
var zeroOperandOps = map[string]uint16{
	"CLS": 0x00E0,
	"RET": 0x00EE,
}

// aluOps are the 8XYN register-to-register forms.
var aluOps = map[string]uint16{
	"OR":   0x8001,
	"AND":  0x8002,
	"XOR":  0x8003,
	"SUB":  0x8005,
	"SUBN": 0x8007,
}

// shiftOps accept an optional Vy that is encoded but ignored at run time.
var shiftOps = map[string]uint16{
	"SHR": 0x8006,
	"SHL": 0x800E,
}

var keyOps = map[string]uint16{
	"SKP":  0xE09E,
	"SKNP": 0xE0A1,
}

var mnemonics = map[string]bool{
	"JP": true, "CALL": true, "SE": true, "SNE": true, "LD": true,
	"ADD": true, "RND": true, "DRW": true,
}

type Assembler struct {
	labels map[string]uint16
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]uint16),
	}
}

// Assemble turns source into a program image that loads at
// cpu.ProgramStart. The returned source map is keyed by absolute address.
func Assemble(code string) ([]byte, map[uint16]int, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) ([]byte, map[uint16]int, error) {
	lines := strings.Split(code, "\n")

	if err := a.pass1(lines); err != nil {
		return nil, nil, err
	}

	return a.pass2(lines)
}

func (a *Assembler) pass1(lines []string) error {
	address := uint32(cpu.ProgramStart)

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		for _, lbl := range p.labels {
			if address >= maxAddress {
				return fmt.Errorf("%w: label '%s' on line %d points past memory", ErrOutOfRange, lbl, lineNo)
			}
			key := normalizeLabel(lbl)
			if _, exists := a.labels[key]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, lineNo)
			}
			a.labels[key] = uint16(address)
		}

		if p.mnemonic == "" {
			continue
		}

		var length uint32
		switch p.mnemonic {
		case ".ORG":
			target, err := parseOrigin(p.operands, lineNo)
			if err != nil {
				return err
			}
			if target < address {
				return fmt.Errorf("cannot move origin backward on line %d", lineNo)
			}
			address = target
			continue
		case ".BYTE":
			if len(p.operands) == 0 {
				return fmt.Errorf("%w: .BYTE expects at least one operand on line %d", ErrOperands, lineNo)
			}
			length = uint32(len(p.operands))
		case ".WORD":
			if len(p.operands) == 0 {
				return fmt.Errorf("%w: .WORD expects at least one operand on line %d", ErrOperands, lineNo)
			}
			length = uint32(len(p.operands)) * 2
		default:
			if !isInstruction(p.mnemonic) {
				return fmt.Errorf("%w on line %d: %s", ErrUnknownInstruction, lineNo, p.mnemonic)
			}
			length = 2
		}

		if address+length > maxAddress {
			return fmt.Errorf("%w near line %d", ErrProgramTooLarge, lineNo)
		}
		address += length
	}

	return nil
}

func (a *Assembler) pass2(lines []string) ([]byte, map[uint16]int, error) {
	program := make([]byte, 0)
	sourceMap := make(map[uint16]int)

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, nil, err
		}

		if p.mnemonic == "" {
			continue
		}

		ops := p.operands

		if p.mnemonic == ".ORG" {
			target, err := parseOrigin(ops, lineNo)
			if err != nil {
				return nil, nil, err
			}
			padding := int(target) - cpu.ProgramStart - len(program)
			if padding < 0 {
				return nil, nil, fmt.Errorf("cannot move origin backward on line %d", lineNo)
			}
			program = append(program, make([]byte, padding)...)
			continue
		}

		sourceMap[uint16(cpu.ProgramStart+len(program))] = lineNo

		switch p.mnemonic {
		case ".BYTE":
			for _, op := range ops {
				val, err := a.parseValue(op, 0xFF, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = append(program, byte(val))
			}
			continue
		case ".WORD":
			for _, op := range ops {
				val, err := a.parseValue(op, 0xFFFF, lineNo)
				if err != nil {
					return nil, nil, err
				}
				program = append(program, byte(val>>8), byte(val))
			}
			continue
		}

		word, err := a.encode(p.mnemonic, ops, lineNo)
		if err != nil {
			return nil, nil, err
		}
		program = append(program, byte(word>>8), byte(word))
	}

	return program, sourceMap, nil
}

// encode assembles a single instruction into its 16-bit opcode.
func (a *Assembler) encode(mnemonic string, ops []string, lineNo int) (uint16, error) {
	bad := func() (uint16, error) {
		return 0, fmt.Errorf("%w for %s on line %d: %s", ErrOperands, mnemonic, lineNo, strings.Join(ops, ", "))
	}

	if opcode, ok := zeroOperandOps[mnemonic]; ok {
		if len(ops) != 0 {
			return bad()
		}
		return opcode, nil
	}

	if opcode, ok := aluOps[mnemonic]; ok {
		x, y, ok := twoRegisters(ops)
		if !ok {
			return bad()
		}
		return opcode | x<<8 | y<<4, nil
	}

	if opcode, ok := shiftOps[mnemonic]; ok {
		switch len(ops) {
		case 1:
			x, ok := parseRegister(ops[0])
			if !ok {
				return bad()
			}
			return opcode | x<<8, nil
		case 2:
			x, y, ok := twoRegisters(ops)
			if !ok {
				return bad()
			}
			return opcode | x<<8 | y<<4, nil
		}
		return bad()
	}

	if opcode, ok := keyOps[mnemonic]; ok {
		if len(ops) != 1 {
			return bad()
		}
		x, ok := parseRegister(ops[0])
		if !ok {
			return bad()
		}
		return opcode | x<<8, nil
	}

	switch mnemonic {
	case "JP":
		switch len(ops) {
		case 1:
			addr, err := a.parseValue(ops[0], 0xFFF, lineNo)
			return 0x1000 | addr, err
		case 2:
			if x, ok := parseRegister(ops[0]); !ok || x != 0 {
				return bad()
			}
			addr, err := a.parseValue(ops[1], 0xFFF, lineNo)
			return 0xB000 | addr, err
		}

	case "CALL":
		if len(ops) == 1 {
			addr, err := a.parseValue(ops[0], 0xFFF, lineNo)
			return 0x2000 | addr, err
		}

	case "SE", "SNE":
		if len(ops) != 2 {
			return bad()
		}
		x, ok := parseRegister(ops[0])
		if !ok {
			return bad()
		}
		if y, ok := parseRegister(ops[1]); ok {
			if mnemonic == "SE" {
				return 0x5000 | x<<8 | y<<4, nil
			}
			return 0x9000 | x<<8 | y<<4, nil
		}
		nn, err := a.parseValue(ops[1], 0xFF, lineNo)
		if mnemonic == "SE" {
			return 0x3000 | x<<8 | nn, err
		}
		return 0x4000 | x<<8 | nn, err

	case "ADD":
		if len(ops) != 2 {
			return bad()
		}
		if strings.EqualFold(ops[0], "I") {
			x, ok := parseRegister(ops[1])
			if !ok {
				return bad()
			}
			return 0xF01E | x<<8, nil
		}
		x, ok := parseRegister(ops[0])
		if !ok {
			return bad()
		}
		if y, ok := parseRegister(ops[1]); ok {
			return 0x8004 | x<<8 | y<<4, nil
		}
		nn, err := a.parseValue(ops[1], 0xFF, lineNo)
		return 0x7000 | x<<8 | nn, err

	case "RND":
		if len(ops) != 2 {
			return bad()
		}
		x, ok := parseRegister(ops[0])
		if !ok {
			return bad()
		}
		nn, err := a.parseValue(ops[1], 0xFF, lineNo)
		return 0xC000 | x<<8 | nn, err

	case "DRW":
		if len(ops) != 3 {
			return bad()
		}
		x, y, ok := twoRegisters(ops[:2])
		if !ok {
			return bad()
		}
		n, err := a.parseValue(ops[2], 0xF, lineNo)
		return 0xD000 | x<<8 | y<<4 | n, err

	case "LD":
		if len(ops) != 2 {
			return bad()
		}
		return a.encodeLD(ops, lineNo, bad)
	}

	return bad()
}

// encodeLD covers the many LD forms, told apart by their operand kinds.
func (a *Assembler) encodeLD(ops []string, lineNo int, bad func() (uint16, error)) (uint16, error) {
	dst, src := strings.ToUpper(ops[0]), strings.ToUpper(ops[1])

	if x, ok := parseRegister(src); ok {
		switch dst {
		case "DT":
			return 0xF015 | x<<8, nil
		case "ST":
			return 0xF018 | x<<8, nil
		case "F":
			return 0xF029 | x<<8, nil
		case "B":
			return 0xF033 | x<<8, nil
		case "[I]":
			return 0xF055 | x<<8, nil
		}
	}

	if dst == "I" {
		addr, err := a.parseValue(ops[1], 0xFFF, lineNo)
		return 0xA000 | addr, err
	}

	x, ok := parseRegister(dst)
	if !ok {
		return bad()
	}
	switch src {
	case "DT":
		return 0xF007 | x<<8, nil
	case "K":
		return 0xF00A | x<<8, nil
	case "[I]":
		return 0xF065 | x<<8, nil
	}
	if y, ok := parseRegister(src); ok {
		return 0x8000 | x<<8 | y<<4, nil
	}
	nn, err := a.parseValue(ops[1], 0xFF, lineNo)
	return 0x6000 | x<<8 | nn, err
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}

		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) == 0 {
		return p, nil
	}

	p.mnemonic = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		p.operands = fields[1:]
	}

	return p, nil
}

func stripComments(line string) string {
	semicolon := strings.Index(line, ";")
	doubleSlash := strings.Index(line, "//")

	cut := -1
	if semicolon >= 0 {
		cut = semicolon
	}
	if doubleSlash >= 0 && (cut == -1 || doubleSlash < cut) {
		cut = doubleSlash
	}
	if cut >= 0 {
		return line[:cut]
	}
	return line
}

// parseRegister accepts V0-VF in either case.
func parseRegister(token string) (uint16, bool) {
	if len(token) != 2 || (token[0] != 'V' && token[0] != 'v') {
		return 0, false
	}
	n, err := strconv.ParseUint(token[1:], 16, 8)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

func twoRegisters(ops []string) (uint16, uint16, bool) {
	if len(ops) != 2 {
		return 0, 0, false
	}
	x, okX := parseRegister(ops[0])
	y, okY := parseRegister(ops[1])
	return x, y, okX && okY
}

func parseOrigin(ops []string, lineNo int) (uint32, error) {
	if len(ops) != 1 {
		return 0, fmt.Errorf("%w: .ORG expects exactly one operand on line %d", ErrOperands, lineNo)
	}
	target, err := strconv.ParseUint(ops[0], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid .ORG value on line %d: %s", lineNo, ops[0])
	}
	if target < cpu.ProgramStart || target >= maxAddress {
		return 0, fmt.Errorf("%w: .ORG on line %d: %s", ErrOutOfRange, lineNo, ops[0])
	}
	return uint32(target), nil
}

// parseValue resolves a numeric literal or label and checks it against limit.
func (a *Assembler) parseValue(token string, limit uint16, lineNo int) (uint16, error) {
	if value, err := strconv.ParseUint(token, 0, 32); err == nil {
		if value > uint64(limit) {
			return 0, fmt.Errorf("%w on line %d: %s > 0x%X", ErrOutOfRange, lineNo, token, limit)
		}
		return uint16(value), nil
	}

	if addr, ok := a.labels[normalizeLabel(token)]; ok {
		if addr > limit {
			return 0, fmt.Errorf("%w on line %d: label '%s' is 0x%X", ErrOutOfRange, lineNo, token, addr)
		}
		return addr, nil
	}

	if isIdentifier(token) {
		return 0, fmt.Errorf("%w '%s' on line %d", ErrUndefinedLabel, token, lineNo)
	}

	return 0, fmt.Errorf("%w: invalid value '%s' on line %d", ErrOperands, token, lineNo)
}

func isInstruction(mnemonic string) bool {
	if _, ok := zeroOperandOps[mnemonic]; ok {
		return true
	}
	if _, ok := aluOps[mnemonic]; ok {
		return true
	}
	if _, ok := shiftOps[mnemonic]; ok {
		return true
	}
	if _, ok := keyOps[mnemonic]; ok {
		return true
	}
	return mnemonics[mnemonic]
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}

	return true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(label)
}
