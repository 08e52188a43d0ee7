package cpu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
)

const (
	MemorySize     = 4096
	ProgramStart   = 0x200
	MaxProgramSize = MemorySize - ProgramStart

	FontBase      = 0x050
	FontGlyphSize = 5

	StackSize    = 16
	NumRegisters = 16
	NumKeys      = 16

	ScreenWidth     = 64
	ScreenHeight    = 32
	FramebufferSize = ScreenWidth * ScreenHeight

	// RegF is the carry, borrow and collision flag. It is also an ordinary
	// register: arithmetic and draw instructions overwrite it.
	RegF = 0xF

	addrMask = MemorySize - 1
)

var (
	ErrProgramTooLarge = errors.New("program too large for memory")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrStackOverflow   = errors.New("call stack overflow")
	ErrStackUnderflow  = errors.New("call stack underflow")
	ErrPCOutOfBounds   = errors.New("program counter out of bounds")
)

// OpcodeError describes why the machine halted.
type OpcodeError struct {
	PC     uint16
	Opcode uint16
	Err    error
}

func (e *OpcodeError) Error() string {
	return fmt.Sprintf("opcode 0x%04X at 0x%03X: %v", e.Opcode, e.PC, e.Err)
}

func (e *OpcodeError) Unwrap() error {
	return e.Err
}

// fontSet holds the 4x5 glyphs for hex digits 0-F.
var fontSet = [16 * FontGlyphSize]byte{
	0xF0, 0x90, 0x90, 0x90, 0xF0, // 0
	0x20, 0x60, 0x20, 0x20, 0x70, // 1
	0xF0, 0x10, 0xF0, 0x80, 0xF0, // 2
	0xF0, 0x10, 0xF0, 0x10, 0xF0, // 3
	0x90, 0x90, 0xF0, 0x10, 0x10, // 4
	0xF0, 0x80, 0xF0, 0x10, 0xF0, // 5
	0xF0, 0x80, 0xF0, 0x90, 0xF0, // 6
	0xF0, 0x10, 0x20, 0x40, 0x40, // 7
	0xF0, 0x90, 0xF0, 0x90, 0xF0, // 8
	0xF0, 0x90, 0xF0, 0x10, 0xF0, // 9
	0xF0, 0x90, 0xF0, 0x90, 0x90, // A
	0xE0, 0x90, 0xE0, 0x90, 0xE0, // B
	0xF0, 0x80, 0x80, 0x80, 0xF0, // C
	0xE0, 0x90, 0x90, 0x90, 0xE0, // D
	0xF0, 0x80, 0xF0, 0x80, 0xF0, // E
	0xF0, 0x80, 0xF0, 0x80, 0x80, // F
}

// RandomSource supplies the bytes behind CXNN. *rand.Rand satisfies it.
type RandomSource interface {
	Uint32() uint32
}

// Speaker receives one Beep per step in which the sound timer expires.
type Speaker interface {
	Beep()
}

// Quirks toggles behaviours that differ between historical interpreters.
type Quirks struct {
	// WrapSprites wraps sprite pixels that fall past the right or bottom
	// edge around to the opposite side. When false they are clipped.
	WrapSprites bool `json:"wrap_sprites"`
	// LoadStoreIncrementsI makes FX55 and FX65 leave I pointing past the
	// last byte transferred.
	LoadStoreIncrementsI bool `json:"load_store_increments_i"`
}

type Options struct {
	// Seed seeds the default random source. Zero picks a random seed.
	Seed uint64
	// Rand replaces the default random source entirely.
	Rand   RandomSource
	Quirks Quirks
	// Logger receives halt warnings and, at debug level, an instruction
	// trace. Nil discards everything.
	Logger *slog.Logger
}

// CPU is the CHIP-8 interpreter. It is not safe for concurrent use.
type CPU struct {
	Memory [MemorySize]byte
	V      [NumRegisters]uint8
	I      uint16
	PC     uint16

	Stack [StackSize]uint16
	SP    uint8

	DelayTimer uint8
	SoundTimer uint8

	// Waiting is set while FX0A is blocked on a key press.
	Waiting bool
	Halted  bool

	// Cycles counts executed instructions since the last reset.
	Cycles uint64

	Quirks Quirks

	keys     [NumKeys]bool
	keyLatch int
	display  [FramebufferSize]byte
	redraw   bool
	beep     bool
	err      error

	rng     RandomSource
	speaker Speaker
	logger  *slog.Logger
}

// NewCPU creates a reset interpreter. At most one Options value is used.
func NewCPU(opts ...Options) *CPU {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	c := &CPU{
		Quirks: o.Quirks,
		rng:    o.Rand,
		logger: o.Logger,
	}
	if c.rng == nil {
		seed := o.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		c.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.Reset()
	return c
}

// Reset returns every piece of machine state to power-on values. The
// random source, speaker, logger and quirks are kept.
func (c *CPU) Reset() {
	c.Memory = [MemorySize]byte{}
	copy(c.Memory[FontBase:], fontSet[:])
	c.V = [NumRegisters]uint8{}
	c.I = 0
	c.PC = ProgramStart
	c.Stack = [StackSize]uint16{}
	c.SP = 0
	c.DelayTimer = 0
	c.SoundTimer = 0
	c.Waiting = false
	c.Halted = false
	c.Cycles = 0
	c.keys = [NumKeys]bool{}
	c.keyLatch = -1
	c.display = [FramebufferSize]byte{}
	c.redraw = false
	c.beep = false
	c.err = nil
}

// Load resets the machine and copies program to ProgramStart. An image
// that does not fit leaves the machine untouched.
func (c *CPU) Load(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes > %d bytes", ErrProgramTooLarge, len(program), MaxProgramSize)
	}
	c.Reset()
	copy(c.Memory[ProgramStart:], program)
	return nil
}

// AttachSpeaker routes beep events to s. Nil detaches.
func (c *CPU) AttachSpeaker(s Speaker) {
	c.speaker = s
}

func (c *CPU) IsRunning() bool {
	return !c.Halted
}

// Err reports why the machine halted, or nil while it is running.
func (c *CPU) Err() error {
	return c.err
}

// SetKey records the state of hex key 0-F. Any other index is a caller
// bug and panics.
func (c *CPU) SetKey(key int, pressed bool) {
	if key < 0 || key >= NumKeys {
		panic(fmt.Sprintf("cpu: key index %d out of range", key))
	}
	if pressed && !c.keys[key] && c.Waiting && c.keyLatch < 0 {
		c.keyLatch = key
	}
	c.keys[key] = pressed
}

// Key reports whether hex key 0-F is held.
func (c *CPU) Key(key int) bool {
	if key < 0 || key >= NumKeys {
		return false
	}
	return c.keys[key]
}

// TakeRedrawFlag reports whether the framebuffer was cleared or drawn to
// since the previous call, and clears the flag.
func (c *CPU) TakeRedrawFlag() bool {
	r := c.redraw
	c.redraw = false
	return r
}

// TakeBeep reports whether a beep was emitted since the previous call.
func (c *CPU) TakeBeep() bool {
	b := c.beep
	c.beep = false
	return b
}

func (c *CPU) fetch() (uint16, bool) {
	if int(c.PC)+1 >= MemorySize {
		return 0, false
	}
	return uint16(c.Memory[c.PC])<<8 | uint16(c.Memory[c.PC+1]), true
}

// Step executes exactly one instruction and then decays both timers once.
// A halted machine ignores Step.
func (c *CPU) Step() {
	if c.Halted {
		return
	}

	pc := c.PC
	opcode, ok := c.fetch()
	if !ok {
		c.halt(pc, 0, ErrPCOutOfBounds)
		return
	}
	c.PC += 2

	instr := Decode(opcode)
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		c.logger.Debug("exec",
			"pc", fmt.Sprintf("0x%03X", pc),
			"opcode", fmt.Sprintf("0x%04X", opcode),
			"instr", instr.String(),
		)
	}

	if err := execute(c, instr); err != nil {
		c.halt(pc, opcode, err)
		return
	}
	c.Cycles++
	c.tickTimers()
}

func (c *CPU) tickTimers() {
	if c.DelayTimer > 0 {
		c.DelayTimer--
	}
	if c.SoundTimer > 0 {
		if c.SoundTimer == 1 {
			c.beep = true
			if c.speaker != nil {
				c.speaker.Beep()
			}
		}
		c.SoundTimer--
	}
}

func (c *CPU) halt(pc, opcode uint16, cause error) {
	c.Halted = true
	c.Waiting = false
	c.err = &OpcodeError{PC: pc, Opcode: opcode, Err: cause}
	c.logger.Warn("machine halted",
		"pc", fmt.Sprintf("0x%03X", pc),
		"opcode", fmt.Sprintf("0x%04X", opcode),
		"err", cause,
	)
}

// Run steps until the machine halts or maxSteps instructions have been
// attempted, and returns the number of steps taken.
func (c *CPU) Run(maxSteps int) int {
	n := 0
	for n < maxSteps && !c.Halted {
		c.Step()
		n++
	}
	return n
}

// RunUntilBlocked is Run that also stops after any step that leaves FX0A
// waiting for a key.
func (c *CPU) RunUntilBlocked(maxSteps int) int {
	n := 0
	for n < maxSteps && !c.Halted {
		c.Step()
		n++
		if c.Waiting {
			break
		}
	}
	return n
}
