package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"chip8/pkg/asm"
	"chip8/pkg/cpu"
	"chip8/pkg/keypad"
	"chip8/pkg/savestate"
)

func newTestSession(t *testing.T, src string) (*session, *bytes.Buffer) {
	t.Helper()
	program, _, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	vm := cpu.NewCPU(cpu.Options{Seed: 1})
	if err := vm.Load(program); err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := new(bytes.Buffer)
	return &session{
		vm:    vm,
		keys:  keypad.NewAutoRelease(keyHold),
		store: savestate.NewStore(),
		out:   out,
	}, out
}

func TestRenderFrame(t *testing.T) {
	var fb [cpu.FramebufferSize]byte
	fb[0] = 1                 // (0,0): top half of cell (0,0)
	fb[cpu.ScreenWidth+1] = 1 // (1,1): bottom half of cell (1,0)
	fb[2] = 1                 // (2,0) and (2,1): full cell
	fb[cpu.ScreenWidth+2] = 1

	out := renderFrame(fb)
	if !strings.HasPrefix(out, "\x1b[H") {
		t.Fatalf("frame should start by homing the cursor")
	}
	lines := strings.Split(strings.TrimPrefix(out, "\x1b[H"), "\r\n")
	if len(lines) != textRows+1 || lines[textRows] != "" {
		t.Fatalf("expected %d rows, got %d", textRows, len(lines)-1)
	}
	first := []rune(lines[0])
	if len(first) != cpu.ScreenWidth {
		t.Fatalf("row width: expected %d, got %d", cpu.ScreenWidth, len(first))
	}
	if string(first[:4]) != "▀▄█ " {
		t.Errorf("first cells: expected %q, got %q", "▀▄█ ", string(first[:4]))
	}
	for i, line := range lines[1:textRows] {
		if strings.TrimSpace(line) != "" {
			t.Errorf("row %d should be blank, got %q", i+1, line)
		}
	}
}

func TestHandleByteQuit(t *testing.T) {
	s, _ := newTestSession(t, "loop: JP loop")
	if s.handleByte(keyEsc, time.Now()) {
		t.Errorf("Esc should quit")
	}
	if s.handleByte(keyCtrlC, time.Now()) {
		t.Errorf("Ctrl-C should quit")
	}
	if !s.handleByte('x', time.Now()) {
		t.Errorf("keypad input should not quit")
	}
}

func TestKeysAutoRelease(t *testing.T) {
	s, _ := newTestSession(t, "LD V2, K\nloop: JP loop")
	t0 := time.Unix(100, 0)

	s.tick(1, t0)
	if !s.vm.Waiting {
		t.Fatalf("machine should wait for a key")
	}

	s.handleByte('e', t0) // hex 6
	if !s.vm.Key(0x6) {
		t.Fatalf("hex key 6 should be held")
	}
	if s.status != "key 6" {
		t.Errorf("status: expected %q, got %q", "key 6", s.status)
	}
	s.tick(1, t0.Add(10*time.Millisecond))
	if s.vm.V[2] != 0x6 || s.vm.Waiting {
		t.Errorf("after key: V2=0x%X Waiting=%v", s.vm.V[2], s.vm.Waiting)
	}

	s.tick(1, t0.Add(keyHold))
	if s.vm.Key(0x6) {
		t.Errorf("hex key 6 should auto-release after %v", keyHold)
	}
}

func TestQuickSaveLoad(t *testing.T) {
	s, out := newTestSession(t, "loop: ADD V1, 1\nJP loop")
	s.tick(10, time.Now())
	saved := s.vm.V[1]

	s.handleByte(keySave, time.Now())
	if s.status != "saved" {
		t.Fatalf("status: expected saved, got %q", s.status)
	}
	s.tick(10, time.Now())

	out.Reset()
	s.handleByte(keyLoad, time.Now())
	if s.status != "loaded" || s.vm.V[1] != saved {
		t.Errorf("after load: status=%q V1=%d, want V1=%d", s.status, s.vm.V[1], saved)
	}
	if !strings.Contains(out.String(), "loaded") {
		t.Errorf("load should repaint with the status line")
	}
}

func TestTickRepaintsOnlyOnRedraw(t *testing.T) {
	s, out := newTestSession(t, "CLS\nloop: JP loop")
	s.tick(1, time.Now())
	if out.Len() == 0 {
		t.Fatalf("CLS should trigger a repaint")
	}
	out.Reset()
	s.tick(5, time.Now())
	if out.Len() != 0 {
		t.Errorf("no repaint expected without a redraw, got %d bytes", out.Len())
	}
}

func TestHaltShownOnStatusLine(t *testing.T) {
	s, out := newTestSession(t, "CLS\nRET")
	s.tick(2, time.Now())
	s.redraw()
	if !strings.Contains(out.String(), "underflow") {
		t.Errorf("status line should report the halt, got %q", out.String())
	}
}
