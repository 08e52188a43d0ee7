package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"chip8/pkg/audio"
	"chip8/pkg/config"
	"chip8/pkg/cpu"
	"chip8/pkg/keypad"
	"chip8/pkg/savestate"
	"chip8/pkg/utils"
)

const quickSlot = "quick"

// statusFrames is how long an on-screen status message stays up.
const statusFrames = 120

// hostKeys maps each QWERTY rune in keypad.QWERTY to its ebiten key.
var hostKeys = map[rune]ebiten.Key{
	'1': ebiten.KeyDigit1, '2': ebiten.KeyDigit2, '3': ebiten.KeyDigit3, '4': ebiten.KeyDigit4,
	'Q': ebiten.KeyQ, 'W': ebiten.KeyW, 'E': ebiten.KeyE, 'R': ebiten.KeyR,
	'A': ebiten.KeyA, 'S': ebiten.KeyS, 'D': ebiten.KeyD, 'F': ebiten.KeyF,
	'Z': ebiten.KeyZ, 'X': ebiten.KeyX, 'C': ebiten.KeyC, 'V': ebiten.KeyV,
}

// keyMap returns the ebiten key bound to every hex key, indexed by hex
// value.
func keyMap() [cpu.NumKeys]ebiten.Key {
	var m [cpu.NumKeys]ebiten.Key
	for hex := 0; hex < cpu.NumKeys; hex++ {
		r, _ := keypad.HostRune(hex)
		m[hex] = hostKeys[r]
	}
	return m
}

// input is the slice of ebiten's polling API the game uses.
type input interface {
	Pressed(k ebiten.Key) bool
	JustPressed(k ebiten.Key) bool
}

type ebitenInput struct{}

func (ebitenInput) Pressed(k ebiten.Key) bool     { return ebiten.IsKeyPressed(k) }
func (ebitenInput) JustPressed(k ebiten.Key) bool { return inpututil.IsKeyJustPressed(k) }

type Game struct {
	vm      *cpu.CPU
	cfg     config.Config
	in      input
	keys    [cpu.NumKeys]ebiten.Key
	store   *savestate.Store
	program []byte
	romPath string
	logger  *slog.Logger

	frame      []byte        // RGBA pixels of the last redraw
	frameDirty bool          // frame changed since the last upload
	screenImg  *ebiten.Image // reused 64×32 canvas

	status      string
	statusTimer int
	paused      bool
}

func NewGame(vm *cpu.CPU, cfg config.Config, program []byte, romPath string, store *savestate.Store, logger *slog.Logger) *Game {
	return &Game{
		vm:         vm,
		cfg:        cfg,
		in:         ebitenInput{},
		keys:       keyMap(),
		store:      store,
		program:    program,
		romPath:    romPath,
		logger:     logger,
		frame:      vm.FramebufferRGBA(cpu.DefaultForeground, cpu.DefaultBackground),
		frameDirty: true,
	}
}

func (g *Game) setStatus(format string, args ...any) {
	g.status = fmt.Sprintf(format, args...)
	g.statusTimer = statusFrames
	g.logger.Info(g.status)
}

// handleHotkeys processes the frontend's own keys. It reports whether the
// machine was replaced so the frame should be redrawn.
func (g *Game) handleHotkeys() bool {
	switch {
	case g.in.JustPressed(ebiten.KeyF5):
		if err := g.store.SaveCPU(quickSlot, g.vm); err != nil {
			g.setStatus("save failed: %v", err)
		} else {
			g.setStatus("saved")
		}
	case g.in.JustPressed(ebiten.KeyF9):
		if err := g.store.RestoreCPU(quickSlot, g.vm); err != nil {
			g.setStatus("load failed: %v", err)
			return false
		}
		g.setStatus("loaded")
		return true
	case g.in.JustPressed(ebiten.KeyF12):
		name := utils.ReplaceExt(g.romPath, time.Now().Format("-20060102-150405.png"))
		if err := g.vm.SaveScreenshot(name, g.cfg.Scale); err != nil {
			g.setStatus("screenshot failed: %v", err)
		} else {
			g.setStatus("screenshot %s", name)
		}
	case g.in.JustPressed(ebiten.KeyF2):
		if err := g.vm.Load(g.program); err != nil {
			g.setStatus("reset failed: %v", err)
			return false
		}
		g.setStatus("reset")
		return true
	case g.in.JustPressed(ebiten.KeyP):
		g.paused = !g.paused
	}
	return false
}

func (g *Game) Update() error {
	if g.in.JustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if g.statusTimer > 0 {
		g.statusTimer--
	}

	redraw := g.handleHotkeys()

	for hex, k := range g.keys {
		if pressed := g.in.Pressed(k); pressed != g.vm.Key(hex) {
			g.vm.SetKey(hex, pressed)
		}
	}

	if !g.paused {
		for i := 0; i < g.cfg.StepsPerFrame(); i++ {
			if !g.vm.IsRunning() {
				break
			}
			g.vm.Step()
		}
	}

	if g.vm.TakeRedrawFlag() || redraw {
		g.frame = g.vm.FramebufferRGBA(cpu.DefaultForeground, cpu.DefaultBackground)
		g.frameDirty = true
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	if g.screenImg == nil {
		g.screenImg = ebiten.NewImage(cpu.ScreenWidth, cpu.ScreenHeight)
	}
	if g.frameDirty {
		g.screenImg.WritePixels(g.frame)
		g.frameDirty = false
	}

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(g.cfg.Scale), float64(g.cfg.Scale))
	screen.DrawImage(g.screenImg, op)

	switch {
	case g.vm.Err() != nil:
		ebitenutil.DebugPrintAt(screen, g.vm.Err().Error(), 2, 2)
	case g.statusTimer > 0:
		ebitenutil.DebugPrintAt(screen, g.status, 2, 2)
	case g.paused:
		ebitenutil.DebugPrintAt(screen, "paused", 2, 2)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return cpu.ScreenWidth * g.cfg.Scale, cpu.ScreenHeight * g.cfg.Scale
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

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

	// Flush dirty save slots to the host every 3 s.
	stopSyncer := make(chan struct{})
	syncerDone := make(chan struct{})
	go func() {
		defer close(syncerDone)
		store.StartSyncer(stateDir, 3*time.Second, stopSyncer, func(err error) {
			logger.Warn("persist save states", "err", err)
		})
	}()

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(cpu.ScreenWidth*cfg.Scale, cpu.ScreenHeight*cfg.Scale)
	ebiten.SetWindowTitle("CHIP-8 - " + fs.Arg(0))
	ebiten.SetTPS(60)

	game := NewGame(vm, cfg, program, romPath, store, logger)
	runErr := ebiten.RunGame(game)

	// Graceful shutdown: stop the syncer, which does a final flush.
	close(stopSyncer)
	<-syncerDone

	if runErr != nil {
		log.Fatal(runErr)
	}
}
