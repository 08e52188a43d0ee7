package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"chip8/pkg/cpu"
)

var ErrInvalid = errors.New("invalid config")

// Config holds the settings shared by the frontends. JSON files and flags
// use the same names.
type Config struct {
	// ClockHz is the number of instructions executed per second.
	ClockHz int `json:"clock_hz"`
	// Scale is the window or screenshot pixel size.
	Scale int `json:"scale"`
	// Seed seeds RND. Zero picks a random seed.
	Seed uint64 `json:"seed"`

	Quirks cpu.Quirks `json:"quirks"`

	// StateDir holds quick-save slots. Empty means a .states directory
	// next to the program.
	StateDir string `json:"state_dir"`
	Audio    bool   `json:"audio"`
	Trace    bool   `json:"trace"`
}

func Default() Config {
	return Config{
		ClockHz: 600,
		Scale:   10,
		Audio:   true,
	}
}

// Load overlays the JSON file at path onto c. An empty path is a no-op.
func (c *Config) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds every field to fs, using the current values as
// defaults. Call Load first so the file provides defaults that flags can
// still override.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.String("config", "", "JSON config file, read before the other flags")
	fs.IntVar(&c.ClockHz, "clock", c.ClockHz, "instructions per second")
	fs.IntVar(&c.Scale, "scale", c.Scale, "pixel scale for window and screenshots")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "random seed for RND (0 = random)")
	fs.BoolVar(&c.Quirks.WrapSprites, "wrap", c.Quirks.WrapSprites, "wrap sprites at screen edges instead of clipping")
	fs.BoolVar(&c.Quirks.LoadStoreIncrementsI, "inc-i", c.Quirks.LoadStoreIncrementsI, "FX55/FX65 advance I")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "directory for quick-save slots")
	fs.BoolVar(&c.Audio, "audio", c.Audio, "play the sound timer beep")
	fs.BoolVar(&c.Trace, "trace", c.Trace, "log every executed instruction")
}

func (c Config) Validate() error {
	if c.ClockHz < 60 || c.ClockHz > 100000 {
		return fmt.Errorf("%w: clock %d Hz outside 60..100000", ErrInvalid, c.ClockHz)
	}
	if c.Scale < 1 || c.Scale > 64 {
		return fmt.Errorf("%w: scale %d outside 1..64", ErrInvalid, c.Scale)
	}
	return nil
}

// StepsPerFrame is how many instructions run per 60 Hz frame.
func (c Config) StepsPerFrame() int {
	return c.ClockHz / 60
}

func (c Config) LogLevel() slog.Level {
	if c.Trace {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// CPUOptions builds the interpreter options for this config.
func (c Config) CPUOptions(logger *slog.Logger) cpu.Options {
	return cpu.Options{
		Seed:   c.Seed,
		Quirks: c.Quirks,
		Logger: logger,
	}
}

// ConfigPath scans args for -config/--config so the file can be loaded
// before the remaining flags are registered and parsed.
func ConfigPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > 8 && a[:8] == "-config=":
			return a[8:]
		case len(a) > 9 && a[:9] == "--config=":
			return a[9:]
		}
	}
	return ""
}
