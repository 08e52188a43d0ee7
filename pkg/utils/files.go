package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chip8/pkg/asm"
	"chip8/pkg/cpu"
)

// sourceExts are assembled on load; anything else is a raw image.
var sourceExts = map[string]bool{".asm": true, ".s": true, ".src": true}

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// ReadROM reads a program image and rejects it early if it cannot fit
// above cpu.ProgramStart.
func ReadROM(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > cpu.MaxProgramSize {
		return nil, fmt.Errorf("%s: %w: %d bytes > %d bytes", path, cpu.ErrProgramTooLarge, info.Size(), cpu.MaxProgramSize)
	}
	return os.ReadFile(path)
}

// ReplaceExt swaps the extension of path for ext, which includes the dot.
func ReplaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// StateDirFor returns the default save-state directory for a ROM: a
// ".states" directory next to it, named after the ROM.
func StateDirFor(romPath string) (string, error) {
	full, parent, err := GetPathInfo(romPath)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(full), filepath.Ext(full))
	return filepath.Join(parent, ".states", base), nil
}

// LoadProgram returns the image for path, assembling it first when the
// extension marks it as source.
func LoadProgram(path string) ([]byte, error) {
	if !sourceExts[strings.ToLower(filepath.Ext(path))] {
		return ReadROM(path)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, _, err := asm.Assemble(string(source))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}
