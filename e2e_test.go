package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runTool(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAssembleAndRun(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "count.asm", []byte(`
; count V0 up to 10, then block on a key
    LD V0, 0
loop:
    ADD V0, 1
    SE V0, 10
    JP loop
    LD V1, K
`))

	code, stdout, stderr := runTool(t, "-in", src, "-run", "-audio=false")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "assembled 10 bytes -> "+filepath.Join(dir, "count.ch8")) {
		t.Errorf("missing assemble line:\n%s", stdout)
	}
	if !strings.Contains(stdout, "waiting for key") {
		t.Errorf("run should stop blocked on the key wait:\n%s", stdout)
	}
	if !strings.Contains(stdout, "V0=0x0A") {
		t.Errorf("V0 should be 10:\n%s", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "count.ch8")); err != nil {
		t.Errorf("binary not written: %v", err)
	}
}

func TestRunBinHalts(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "bad.ch8", []byte{0x60, 0x01, 0xFF, 0xFF})

	code, stdout, _ := runTool(t, "-run-bin", bin)
	if code != 3 {
		t.Errorf("exit code: expected 3 for a halted machine, got %d", code)
	}
	if !strings.Contains(stdout, "halted: opcode 0xFFFF at 0x202: unknown opcode") {
		t.Errorf("summary should name the halt:\n%s", stdout)
	}
}

func TestRunStepLimit(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "spin.ch8", []byte{0x70, 0x01, 0x12, 0x00})

	code, stdout, _ := runTool(t, "-run-bin", bin, "-steps", "7")
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if !strings.Contains(stdout, "running, cycles=7") || !strings.Contains(stdout, "V0=0x04") {
		t.Errorf("unexpected summary:\n%s", stdout)
	}
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "prog.ch8", []byte{0x00, 0xE0, 0xA2, 0x0A, 0xD0, 0x15})

	code, stdout, stderr := runTool(t, "-disasm", bin)
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	want := "200: 00E0  CLS\n202: A20A  LD I, 0x20A\n204: D015  DRW V0, V1, 5\n"
	if stdout != want {
		t.Errorf("listing:\n%s\nwant:\n%s", stdout, want)
	}
}

func TestScreenshot(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "digit.asm", []byte(`
    LD V0, 7
    LD F, V0
    LD V1, 0
    DRW V1, V1, 5
end:
    JP end
`))
	shot := filepath.Join(dir, "digit.png")

	code, _, stderr := runTool(t, "-in", src, "-run", "-steps", "10", "-screenshot", shot, "-scale", "3")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	f, err := os.Open(shot)
	if err != nil {
		t.Fatalf("open screenshot: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 192 || b.Dy() != 96 {
		t.Errorf("screenshot size: expected 192x96, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"nothing to do", nil, 2},
		{"run without input", []string{"-run"}, 2},
		{"run and run-bin", []string{"-run", "-run-bin", "x.ch8"}, 2},
		{"bad flag", []string{"-nope"}, 2},
		{"invalid config", []string{"-scale", "0", "-disasm", "x"}, 2},
		{"missing input", []string{"-in", "/does/not/exist.asm"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runTool(t, tt.args...); code != tt.code {
				t.Errorf("exit code: expected %d, got %d", tt.code, code)
			}
		})
	}
}

func TestAssemblyErrorReported(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "bad.asm", []byte("CLS\nJP nowhere\n"))
	code, _, stderr := runTool(t, "-in", src)
	if code != 1 || !strings.Contains(stderr, "undefined label 'nowhere' on line 2") {
		t.Errorf("code=%d stderr=%q", code, stderr)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "chip8.json", []byte(`{"seed": 9, "quirks": {"load_store_increments_i": true}}`))
	src := writeFile(t, dir, "store.asm", []byte(`
    LD I, 0x300
    LD [I], V2
    LD V5, K
`))

	code, stdout, stderr := runTool(t, "-config", cfg, "-in", src, "-run")
	if code != 0 {
		t.Fatalf("exit code %d, stderr:\n%s", code, stderr)
	}
	if !strings.Contains(stdout, "I=0x303") {
		t.Errorf("config quirk should advance I:\n%s", stdout)
	}
}
