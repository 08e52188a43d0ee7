//go:build !js

package main

import (
	"chip8/pkg/asm"
	"chip8/pkg/config"
	"chip8/pkg/cpu"
	"chip8/pkg/utils"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main with its exit code returned so the tool can be driven from
// tests.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chip8", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := config.Default()
	if err := cfg.Load(config.ConfigPath(args)); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	cfg.RegisterFlags(fs)

	inPath := fs.String("in", "", "input assembly file path")
	outPath := fs.String("out", "", "output binary file path (default: input with .ch8 extension)")
	disasmPath := fs.String("disasm", "", "print a disassembly listing of a binary file")
	runProgram := fs.Bool("run", false, "run the generated binary file headless")
	runBinPath := fs.String("run-bin", "", "run an existing binary file headless")
	steps := fs.Int("steps", 100000, "maximum instructions to execute when running")
	screenshot := fs.String("screenshot", "", "write the final framebuffer to this PNG file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if *runProgram && *runBinPath != "" {
		fmt.Fprintln(stderr, "use either -run or -run-bin, not both")
		return 2
	}

	if *disasmPath != "" {
		image, err := os.ReadFile(*disasmPath)
		if err != nil {
			fmt.Fprintf(stderr, "failed to read binary file %q: %v\n", *disasmPath, err)
			return 1
		}
		fmt.Fprint(stdout, asm.Listing(asm.Disassemble(image, cpu.ProgramStart)))
	}

	assembledOutput := ""
	if *inPath != "" {
		source, err := os.ReadFile(*inPath)
		if err != nil {
			fmt.Fprintf(stderr, "failed to read input file %q: %v\n", *inPath, err)
			return 1
		}

		code, _, err := asm.Assemble(string(source))
		if err != nil {
			fmt.Fprintf(stderr, "assembly failed: %v\n", err)
			return 1
		}

		output := *outPath
		if output == "" {
			output = utils.ReplaceExt(*inPath, ".ch8")
		}

		if err := os.WriteFile(output, code, 0o644); err != nil {
			fmt.Fprintf(stderr, "failed to write binary file %q: %v\n", output, err)
			return 1
		}

		fmt.Fprintf(stdout, "assembled %d bytes -> %s\n", len(code), output)
		assembledOutput = output
	}

	if *inPath == "" && *runBinPath == "" && !*runProgram && *disasmPath == "" {
		fmt.Fprintln(stderr, "nothing to do: provide -in to assemble, -disasm <file> to disassemble, -run to run assembled output, or -run-bin <file> to run an existing binary")
		fs.Usage()
		return 2
	}

	runTarget := ""
	switch {
	case *runBinPath != "":
		runTarget = *runBinPath
	case *runProgram:
		if assembledOutput == "" {
			fmt.Fprintln(stderr, "-run requires -in, or use -run-bin <file>")
			return 2
		}
		runTarget = assembledOutput
	default:
		return 0
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	vm, err := runBinary(runTarget, *steps, cfg.CPUOptions(logger))
	if err != nil {
		fmt.Fprintf(stderr, "run failed for %q: %v\n", runTarget, err)
		return 1
	}
	fmt.Fprintln(stdout, summary(runTarget, vm))

	if *screenshot != "" {
		if err := vm.SaveScreenshot(*screenshot, cfg.Scale); err != nil {
			fmt.Fprintf(stderr, "failed to write screenshot %q: %v\n", *screenshot, err)
			return 1
		}
	}
	if vm.Err() != nil {
		return 3
	}
	return 0
}

// runBinary loads the image and steps it until it halts, blocks on a key
// or exhausts maxSteps.
func runBinary(path string, maxSteps int, opts cpu.Options) (*cpu.CPU, error) {
	image, err := utils.ReadROM(path)
	if err != nil {
		return nil, err
	}

	vm := cpu.NewCPU(opts)
	if err := vm.Load(image); err != nil {
		return nil, err
	}
	vm.RunUntilBlocked(maxSteps)
	return vm, nil
}

func summary(path string, vm *cpu.CPU) string {
	var b strings.Builder
	state := "running"
	switch {
	case vm.Err() != nil:
		state = "halted: " + vm.Err().Error()
	case vm.Waiting:
		state = "waiting for key"
	}
	fmt.Fprintf(&b, "run complete (%s): %s, cycles=%d\n", path, state, vm.Cycles)
	fmt.Fprintf(&b, "PC=0x%03X I=0x%03X SP=%d DT=%d ST=%d\n", vm.PC, vm.I, vm.SP, vm.DelayTimer, vm.SoundTimer)
	for i, v := range vm.V {
		fmt.Fprintf(&b, "V%X=0x%02X", i, v)
		if i%8 == 7 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
