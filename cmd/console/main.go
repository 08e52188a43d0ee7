package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"chip8/pkg/audio"
	"chip8/pkg/config"
	"chip8/pkg/cpu"
	"chip8/pkg/grid"
	"chip8/pkg/keypad"
	"chip8/pkg/savestate"
	"chip8/pkg/utils"
)

const (
	keyCtrlC = 0x03
	keyEsc   = 0x1B

	// Terminals report key-down only, so each press is held this long.
	keyHold = 150 * time.Millisecond

	// Quick-save and quick-load use keys outside the keypad block.
	keySave = '9'
	keyLoad = '0'

	quickSlot = "quick"

	// textRows is the terminal height of the display: two pixel rows per
	// character cell.
	textRows = cpu.ScreenHeight / 2
)

// renderFrame draws the framebuffer with half-block characters, homing
// the cursor first so successive frames overwrite each other. Raw mode
// needs explicit carriage returns.
func renderFrame(fb [cpu.FramebufferSize]byte) string {
	var b strings.Builder
	b.WriteString("\x1b[H")
	for i := 0; i < cpu.ScreenWidth*textRows; i++ {
		x, row := grid.GetGridCoords(i, cpu.ScreenWidth)
		top := fb[grid.Index(x, row*2, cpu.ScreenWidth)] != 0
		bottom := fb[grid.Index(x, row*2+1, cpu.ScreenWidth)] != 0
		switch {
		case top && bottom:
			b.WriteString("█")
		case top:
			b.WriteString("▀")
		case bottom:
			b.WriteString("▄")
		default:
			b.WriteByte(' ')
		}
		if x == cpu.ScreenWidth-1 {
			b.WriteString("\r\n")
		}
	}
	return b.String()
}

// session couples the machine to terminal input and output.
type session struct {
	vm     *cpu.CPU
	keys   *keypad.AutoRelease
	store  *savestate.Store
	out    io.Writer
	status string
}

// handleByte applies one byte of terminal input. It reports false when
// the user asked to quit.
func (s *session) handleByte(b byte, now time.Time) bool {
	switch b {
	case keyCtrlC, keyEsc:
		return false
	case keySave:
		if err := s.store.SaveCPU(quickSlot, s.vm); err != nil {
			s.status = "save failed: " + err.Error()
		} else {
			s.status = "saved"
		}
		return true
	case keyLoad:
		if err := s.store.RestoreCPU(quickSlot, s.vm); err != nil {
			s.status = "load failed: " + err.Error()
		} else {
			s.status = "loaded"
			// The snapshot carries its own key state; the terminal's wins.
			for hex := 0; hex < cpu.NumKeys; hex++ {
				s.vm.SetKey(hex, s.keys.Held(hex))
			}
			s.redraw()
		}
		return true
	}

	if hex, ok := keypad.FromRune(rune(b)); ok {
		s.keys.Press(hex, now)
		s.status = "key " + keypad.Label(hex)
		if !s.vm.Key(hex) {
			s.vm.SetKey(hex, true)
		}
	}
	return true
}

// tick releases expired keys, runs one frame of steps and repaints when
// the display changed.
func (s *session) tick(steps int, now time.Time) {
	for _, hex := range s.keys.Expired(now) {
		s.vm.SetKey(hex, false)
	}
	for i := 0; i < steps && s.vm.IsRunning(); i++ {
		s.vm.Step()
	}
	if s.vm.TakeRedrawFlag() {
		s.redraw()
	}
}

func (s *session) redraw() {
	io.WriteString(s.out, renderFrame(s.vm.Framebuffer()))
	line := s.status
	if err := s.vm.Err(); err != nil {
		line = err.Error()
	}
	fmt.Fprintf(s.out, "\x1b[K%s\r\n", line)
}

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] <rom.ch8|source.asm>\n", os.Args[0])
		fs.PrintDefaults()
	}

	cfg := config.Default()
	if err := cfg.Load(config.ConfigPath(os.Args[1:])); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.RegisterFlags(fs)
	fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	romPath, _, err := utils.GetPathInfo(fs.Arg(0))
	if err != nil {
		log.Fatalf("Bad program path: %v", err)
	}
	program, err := utils.LoadProgram(romPath)
	if err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		log.Fatal("stdin is not a terminal")
	}
	if w, h, err := term.GetSize(fd); err == nil && (w < cpu.ScreenWidth || h < textRows+1) {
		log.Fatalf("terminal is %dx%d; need at least %dx%d", w, h, cpu.ScreenWidth, textRows+1)
	}

	// The trace would corrupt the display, so logs go to a file.
	logOut := io.Discard
	if cfg.Trace {
		f, err := os.Create(utils.ReplaceExt(romPath, ".log"))
		if err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	vm := cpu.NewCPU(cfg.CPUOptions(logger))
	if err := vm.Load(program); err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	speaker, err := audio.Open(cfg.Audio, audio.DefaultSampleRate)
	if err != nil {
		logger.Warn("audio unavailable", "err", err)
	}
	defer speaker.Close()
	vm.AttachSpeaker(speaker)

	stateDir := cfg.StateDir
	if stateDir == "" {
		if stateDir, err = utils.StateDirFor(romPath); err != nil {
			log.Fatalf("Bad state directory: %v", err)
		}
	}
	store := savestate.NewStore()
	if err := store.LoadFrom(stateDir); err != nil {
		logger.Warn("could not load save states", "dir", stateDir, "err", err)
	}

	// Start background state syncer (flushes dirty slots to host every 3 s)
	stopSyncer := make(chan struct{})
	syncerDone := make(chan struct{})
	go func() {
		defer close(syncerDone)
		store.StartSyncer(stateDir, 3*time.Second, stopSyncer, func(err error) {
			logger.Warn("persist save states", "err", err)
		})
	}()

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		log.Fatalf("Failed to set raw mode: %v", err)
	}

	input := make(chan byte, 64)
	go func() {
		buf := make([]byte, 16)
		for {
			n, err := os.Stdin.Read(buf)
			for _, b := range buf[:n] {
				input <- b
			}
			if err != nil {
				close(input)
				return
			}
		}
	}()

	s := &session{
		vm:    vm,
		keys:  keypad.NewAutoRelease(keyHold),
		store: store,
		out:   os.Stdout,
	}
	fmt.Fprint(os.Stdout, "\x1b[2J\x1b[?25l")
	s.redraw()

	frame := time.NewTicker(time.Second / 60)
	running := true
	for running {
		select {
		case b, ok := <-input:
			running = ok && s.handleByte(b, time.Now())
		case now := <-frame.C:
			s.tick(cfg.StepsPerFrame(), now)
		}
	}
	frame.Stop()

	fmt.Fprint(os.Stdout, "\x1b[?25h\r\n")
	_ = term.Restore(fd, oldState)

	close(stopSyncer)
	<-syncerDone
}
