package cpu

import (
	"archive/zip"
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ── Core state round-trip ──────────────────────────────────────────────────

func TestCPU_HibernateCoreState(t *testing.T) {
	c1 := NewCPU(Options{Seed: 1, Quirks: Quirks{WrapSprites: true}})
	c1.V[0] = 0x12
	c1.V[RegF] = 0x01
	c1.I = 0x345
	c1.PC = 0x2AC
	c1.Stack[0] = 0x204
	c1.Stack[1] = 0x310
	c1.SP = 2
	c1.DelayTimer = 40
	c1.SoundTimer = 7
	c1.Cycles = 1234
	c1.SetKey(0xC, true)

	data, err := c1.HibernateToBytes()
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}

	c2 := NewCPU(Options{Seed: 2})
	if err := c2.RestoreFromBytes(data); err != nil {
		t.Fatalf("RestoreFromBytes: %v", err)
	}

	if c2.V != c1.V {
		t.Errorf("V mismatch: got %v, want %v", c2.V, c1.V)
	}
	if c2.I != c1.I {
		t.Errorf("I: got 0x%03X, want 0x%03X", c2.I, c1.I)
	}
	if c2.PC != c1.PC {
		t.Errorf("PC: got 0x%03X, want 0x%03X", c2.PC, c1.PC)
	}
	if c2.Stack != c1.Stack || c2.SP != c1.SP {
		t.Errorf("stack: got %v SP=%d, want %v SP=%d", c2.Stack, c2.SP, c1.Stack, c1.SP)
	}
	if c2.DelayTimer != c1.DelayTimer || c2.SoundTimer != c1.SoundTimer {
		t.Errorf("timers: got DT=%d ST=%d, want DT=%d ST=%d", c2.DelayTimer, c2.SoundTimer, c1.DelayTimer, c1.SoundTimer)
	}
	if c2.Cycles != c1.Cycles {
		t.Errorf("Cycles: got %d, want %d", c2.Cycles, c1.Cycles)
	}
	if c2.Quirks != c1.Quirks {
		t.Errorf("Quirks: got %+v, want %+v", c2.Quirks, c1.Quirks)
	}
	if !c2.Key(0xC) {
		t.Errorf("key C should still be held after restore")
	}
}

// ── Memory & framebuffer binary serialisation ──────────────────────────────

func TestCPU_HibernateMemoryAndDisplay(t *testing.T) {
	c1 := NewCPU(Options{Seed: 1})
	loadProgram(t, c1, 0xA300, 0xD125)
	c1.Memory[0x300] = 0xDE
	c1.Memory[0x301] = 0xAD
	c1.Memory[0x302] = 0xBE
	c1.Memory[0x303] = 0xEF
	c1.V[1] = 10
	c1.V[2] = 3
	c1.Run(2)

	data, err := c1.HibernateToBytes()
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}

	c2 := NewCPU(Options{Seed: 1})
	if err := c2.RestoreFromBytes(data); err != nil {
		t.Fatalf("RestoreFromBytes: %v", err)
	}

	if diff := cmp.Diff(c1.Memory, c2.Memory); diff != "" {
		t.Errorf("memory (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c1.Framebuffer(), c2.Framebuffer()); diff != "" {
		t.Errorf("framebuffer (-want +got):\n%s", diff)
	}
}

// ── Blocked and halted machines ────────────────────────────────────────────

func TestCPU_HibernateWaitingForKey(t *testing.T) {
	c1 := NewCPU(Options{Seed: 1})
	loadProgram(t, c1, 0xF50A)
	c1.Step()

	data, err := c1.HibernateToBytes()
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}
	c2 := NewCPU(Options{Seed: 1})
	if err := c2.RestoreFromBytes(data); err != nil {
		t.Fatalf("RestoreFromBytes: %v", err)
	}
	if !c2.Waiting {
		t.Fatalf("restored machine should still be waiting")
	}

	c2.SetKey(0xB, true)
	c2.Step()
	if c2.V[5] != 0xB || c2.PC != 0x202 {
		t.Errorf("after key: expected V5=0xB PC=0x202, got V5=0x%X PC=0x%03X", c2.V[5], c2.PC)
	}
}

func TestCPU_HibernateHalted(t *testing.T) {
	c1 := NewCPU(Options{Seed: 1})
	loadProgram(t, c1, 0x00EE)
	c1.Step()

	data, err := c1.HibernateToBytes()
	if err != nil {
		t.Fatalf("HibernateToBytes: %v", err)
	}
	c2 := NewCPU(Options{Seed: 1})
	if err := c2.RestoreFromBytes(data); err != nil {
		t.Fatalf("RestoreFromBytes: %v", err)
	}

	if c2.IsRunning() {
		t.Errorf("restored machine should be halted")
	}
	if !errors.Is(c2.Err(), ErrStackUnderflow) {
		t.Errorf("Err: expected ErrStackUnderflow, got %v", c2.Err())
	}
	var opErr *OpcodeError
	if errors.As(c2.Err(), &opErr) && (opErr.PC != 0x200 || opErr.Opcode != 0x00EE) {
		t.Errorf("halt record: got PC=0x%03X opcode=0x%04X", opErr.PC, opErr.Opcode)
	}
}

// ── Invalid archives ───────────────────────────────────────────────────────

func TestCPU_RestoreRejectsInvalidArchives(t *testing.T) {
	build := func(entries map[string][]byte) []byte {
		buf := new(bytes.Buffer)
		zw := zip.NewWriter(buf)
		for name, data := range entries {
			if err := writeZipEntry(zw, name, data); err != nil {
				t.Fatalf("writeZipEntry: %v", err)
			}
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		return buf.Bytes()
	}
	okState := []byte(`{"pc": 512, "key_latch": -1}`)

	tests := []struct {
		name    string
		entries map[string][]byte
	}{
		{"missing memory", map[string][]byte{
			"cpu_state.json":  okState,
			"framebuffer.bin": make([]byte, FramebufferSize),
		}},
		{"short memory", map[string][]byte{
			"cpu_state.json":  okState,
			"memory.bin":      make([]byte, 100),
			"framebuffer.bin": make([]byte, FramebufferSize),
		}},
		{"stack pointer too large", map[string][]byte{
			"cpu_state.json":  []byte(`{"sp": 17, "key_latch": -1}`),
			"memory.bin":      make([]byte, MemorySize),
			"framebuffer.bin": make([]byte, FramebufferSize),
		}},
		{"unknown halt cause", map[string][]byte{
			"cpu_state.json":  []byte(`{"key_latch": -1, "halted": true, "halt": {"cause": "gremlins"}}`),
			"memory.bin":      make([]byte, MemorySize),
			"framebuffer.bin": make([]byte, FramebufferSize),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCPU(Options{Seed: 1})
			c.V[4] = 0x44
			err := c.RestoreFromBytes(build(tt.entries))
			if !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("expected ErrInvalidSnapshot, got %v", err)
			}
			if c.V[4] != 0x44 || c.PC != ProgramStart {
				t.Errorf("rejected snapshot modified the machine")
			}
		})
	}

	if err := NewCPU().RestoreFromBytes([]byte("not a zip")); err == nil {
		t.Errorf("expected an error for garbage input")
	}
}

func TestCPU_HibernateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.zip")

	c1 := NewCPU(Options{Seed: 1})
	loadProgram(t, c1, 0x6A42)
	c1.Step()
	if err := c1.HibernateToFile(path); err != nil {
		t.Fatalf("HibernateToFile: %v", err)
	}

	c2 := NewCPU(Options{Seed: 1})
	if err := c2.RestoreFromFile(path); err != nil {
		t.Fatalf("RestoreFromFile: %v", err)
	}
	if c2.V[0xA] != 0x42 || c2.PC != 0x202 {
		t.Errorf("restored VA=0x%02X PC=0x%03X", c2.V[0xA], c2.PC)
	}
}
