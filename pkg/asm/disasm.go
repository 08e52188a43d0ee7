package asm

import (
	"chip8/pkg/cpu"
	"fmt"
	"strings"
)

// Line is one disassembled word.
type Line struct {
	Addr uint16
	Word uint16
	Text string
}

// Disassemble decodes image word by word as if loaded at origin. Words
// that decode to no instruction come back as .WORD directives, and a
// trailing odd byte as a .BYTE directive, so the text reassembles to the
// same bytes.
func Disassemble(image []byte, origin uint16) []Line {
	lines := make([]Line, 0, len(image)/2+1)
	for i := 0; i < len(image); i += 2 {
		addr := origin + uint16(i)
		if i+1 >= len(image) {
			lines = append(lines, Line{
				Addr: addr,
				Word: uint16(image[i]),
				Text: fmt.Sprintf(".BYTE 0x%02X", image[i]),
			})
			break
		}
		word := uint16(image[i])<<8 | uint16(image[i+1])
		lines = append(lines, Line{
			Addr: addr,
			Word: word,
			Text: cpu.Decode(word).String(),
		})
	}
	return lines
}

// Listing formats lines as "ADDR: WORD  TEXT", one per line. The line
// after a conditional skip is indented by two spaces.
func Listing(lines []Line) string {
	var b strings.Builder
	skipped := false
	for _, l := range lines {
		indent := ""
		if skipped {
			indent = "  "
		}
		fmt.Fprintf(&b, "%03X: %04X  %s%s\n", l.Addr, l.Word, indent, l.Text)
		skipped = cpu.Decode(l.Word).IsSkip()
	}
	return b.String()
}
