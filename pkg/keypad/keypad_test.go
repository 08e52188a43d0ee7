package keypad

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFromRune(t *testing.T) {
	tests := []struct {
		r    rune
		want int
		ok   bool
	}{
		{'1', 0x1, true},
		{'4', 0xC, true},
		{'q', 0x4, true},
		{'W', 0x5, true},
		{'a', 0x7, true},
		{'f', 0xE, true},
		{'z', 0xA, true},
		{'x', 0x0, true},
		{'c', 0xB, true},
		{'V', 0xF, true},
		{'5', 0, false},
		{' ', 0, false},
	}
	for _, tc := range tests {
		got, ok := FromRune(tc.r)
		if got != tc.want || ok != tc.ok {
			t.Errorf("FromRune(%q) = %X, %v; want %X, %v", tc.r, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEveryKeyIsReachable(t *testing.T) {
	for key := 0; key < 16; key++ {
		r, ok := HostRune(key)
		if !ok {
			t.Errorf("HostRune(%X) not found", key)
			continue
		}
		back, ok := FromRune(r)
		if !ok || back != key {
			t.Errorf("FromRune(HostRune(%X)) = %X, %v", key, back, ok)
		}
	}
	if _, ok := HostRune(16); ok {
		t.Errorf("HostRune(16) should not exist")
	}
}

func TestLabel(t *testing.T) {
	if Label(0xA) != "A" || Label(3) != "3" {
		t.Errorf("Label: got %q and %q", Label(0xA), Label(3))
	}
}

func TestAutoRelease(t *testing.T) {
	a := NewAutoRelease(100 * time.Millisecond)
	t0 := time.Unix(0, 0)

	if !a.Press(0x5, t0) {
		t.Errorf("first press should be an edge")
	}
	if !a.Press(0x2, t0.Add(50*time.Millisecond)) {
		t.Errorf("press of a different key should be an edge")
	}
	if a.Press(0x5, t0.Add(60*time.Millisecond)) {
		t.Errorf("repeat while held should not be an edge")
	}

	if got := a.Expired(t0.Add(99 * time.Millisecond)); len(got) != 0 {
		t.Errorf("nothing should expire yet, got %v", got)
	}
	if diff := cmp.Diff([]int{0x2}, a.Expired(t0.Add(150*time.Millisecond))); diff != "" {
		t.Errorf("Expired at 150ms (-want +got):\n%s", diff)
	}
	if !a.Held(0x5) || a.Held(0x2) {
		t.Errorf("held state: 5=%v 2=%v", a.Held(0x5), a.Held(0x2))
	}
	if diff := cmp.Diff([]int{0x5}, a.Expired(t0.Add(160*time.Millisecond))); diff != "" {
		t.Errorf("Expired at 160ms (-want +got):\n%s", diff)
	}
}
