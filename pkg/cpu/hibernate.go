package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidSnapshot is returned when a snapshot archive is missing an
// entry or holds state the machine could never reach.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// haltCauses names the runtime errors so a halted machine can be restored
// with the same cause.
var haltCauses = map[string]error{
	"unknown_opcode":  ErrUnknownOpcode,
	"stack_overflow":  ErrStackOverflow,
	"stack_underflow": ErrStackUnderflow,
	"pc_out_of_range": ErrPCOutOfBounds,
}

// humanReadableState is the JSON-serializable snapshot of CPU control state.
type humanReadableState struct {
	V          [NumRegisters]uint8 `json:"v"`
	I          uint16              `json:"i"`
	PC         uint16              `json:"pc"`
	Stack      [StackSize]uint16   `json:"stack"`
	SP         uint8               `json:"sp"`
	DelayTimer uint8               `json:"delay_timer"`
	SoundTimer uint8               `json:"sound_timer"`
	Keys       [NumKeys]bool       `json:"keys"`
	KeyLatch   int                 `json:"key_latch"`
	Waiting    bool                `json:"waiting"`
	Halted     bool                `json:"halted"`
	Redraw     bool                `json:"redraw"`
	Cycles     uint64              `json:"cycles"`
	Quirks     Quirks              `json:"quirks"`
	Halt       *haltRecord         `json:"halt,omitempty"`
}

type haltRecord struct {
	PC     uint16 `json:"pc"`
	Opcode uint16 `json:"opcode"`
	Cause  string `json:"cause"`
}

// HibernateToBytes serialises the complete machine state into an
// in-memory ZIP archive and returns the raw bytes.
func (c *CPU) HibernateToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	// ── 1. cpu_state.json ──────────────────────────────────────────────────
	state := humanReadableState{
		V:          c.V,
		I:          c.I,
		PC:         c.PC,
		Stack:      c.Stack,
		SP:         c.SP,
		DelayTimer: c.DelayTimer,
		SoundTimer: c.SoundTimer,
		Keys:       c.keys,
		KeyLatch:   c.keyLatch,
		Waiting:    c.Waiting,
		Halted:     c.Halted,
		Redraw:     c.redraw,
		Cycles:     c.Cycles,
		Quirks:     c.Quirks,
	}

	var opErr *OpcodeError
	if errors.As(c.err, &opErr) {
		rec := &haltRecord{PC: opErr.PC, Opcode: opErr.Opcode}
		for name, cause := range haltCauses {
			if errors.Is(opErr.Err, cause) {
				rec.Cause = name
			}
		}
		state.Halt = rec
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}

	// ── 2. memory.bin ──────────────────────────────────────────────────────
	if err := writeZipEntry(zw, "memory.bin", c.Memory[:]); err != nil {
		return nil, err
	}

	// ── 3. framebuffer.bin ─────────────────────────────────────────────────
	if err := writeZipEntry(zw, "framebuffer.bin", c.display[:]); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes deserialises a ZIP archive produced by HibernateToBytes
// and applies it. The machine is left unchanged if the archive is invalid.
func (c *CPU) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return err
	}
	var state humanReadableState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	if int(state.SP) > StackSize {
		return fmt.Errorf("%w: stack pointer %d exceeds %d", ErrInvalidSnapshot, state.SP, StackSize)
	}
	if state.KeyLatch < -1 || state.KeyLatch >= NumKeys {
		return fmt.Errorf("%w: key latch %d", ErrInvalidSnapshot, state.KeyLatch)
	}

	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return err
	}
	if len(memData) != MemorySize {
		return fmt.Errorf("%w: memory.bin is %d bytes", ErrInvalidSnapshot, len(memData))
	}

	fbData, err := readZipEntry(fileMap, "framebuffer.bin")
	if err != nil {
		return err
	}
	if len(fbData) != FramebufferSize {
		return fmt.Errorf("%w: framebuffer.bin is %d bytes", ErrInvalidSnapshot, len(fbData))
	}

	var haltErr error
	if state.Halt != nil {
		cause, ok := haltCauses[state.Halt.Cause]
		if !ok {
			return fmt.Errorf("%w: unknown halt cause %q", ErrInvalidSnapshot, state.Halt.Cause)
		}
		haltErr = &OpcodeError{PC: state.Halt.PC, Opcode: state.Halt.Opcode, Err: cause}
	}

	c.V = state.V
	c.I = state.I
	c.PC = state.PC
	c.Stack = state.Stack
	c.SP = state.SP
	c.DelayTimer = state.DelayTimer
	c.SoundTimer = state.SoundTimer
	c.keys = state.Keys
	c.keyLatch = state.KeyLatch
	c.Waiting = state.Waiting
	c.Halted = state.Halted
	c.redraw = state.Redraw
	c.Cycles = state.Cycles
	c.Quirks = state.Quirks
	c.err = haltErr
	c.beep = false
	copy(c.Memory[:], memData)
	for i, p := range fbData {
		c.display[i] = p & 0x01
	}

	return nil
}

// HibernateToFile writes the hibernation archive to the given file path.
func (c *CPU) HibernateToFile(path string) error {
	data, err := c.HibernateToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// RestoreFromFile reads a hibernation archive from the given file path and
// restores the machine state.
func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.RestoreFromBytes(data)
}

// ── helpers ────────────────────────────────────────────────────────────────

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: zip entry %q not found", ErrInvalidSnapshot, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
