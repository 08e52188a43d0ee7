package keypad

import (
	"fmt"
	"time"
	"unicode"
)

// Hex is the COSMAC VIP keypad as printed, row by row.
var Hex = [4][4]int{
	{0x1, 0x2, 0x3, 0xC},
	{0x4, 0x5, 0x6, 0xD},
	{0x7, 0x8, 0x9, 0xE},
	{0xA, 0x0, 0xB, 0xF},
}

// QWERTY is the left-hand block of a QWERTY keyboard laid over Hex.
var QWERTY = [4][4]rune{
	{'1', '2', '3', '4'},
	{'Q', 'W', 'E', 'R'},
	{'A', 'S', 'D', 'F'},
	{'Z', 'X', 'C', 'V'},
}

var runeToKey = func() map[rune]int {
	m := make(map[rune]int, 16)
	for row := range QWERTY {
		for col, r := range QWERTY[row] {
			m[r] = Hex[row][col]
		}
	}
	return m
}()

// FromRune maps a typed character to its hex key. Letters match in either
// case.
func FromRune(r rune) (int, bool) {
	k, ok := runeToKey[unicode.ToUpper(r)]
	return k, ok
}

// HostRune is the inverse of FromRune.
func HostRune(key int) (rune, bool) {
	for row := range Hex {
		for col, k := range Hex[row] {
			if k == key {
				return QWERTY[row][col], true
			}
		}
	}
	return 0, false
}

// Label renders a hex key as a single uppercase digit.
func Label(key int) string {
	return fmt.Sprintf("%X", key)
}

// AutoRelease turns key-down-only input, such as bytes from a terminal,
// into press/release pairs by releasing each key after Hold has passed
// since its last press.
type AutoRelease struct {
	Hold    time.Duration
	pressed map[int]time.Time
}

func NewAutoRelease(hold time.Duration) *AutoRelease {
	return &AutoRelease{Hold: hold, pressed: make(map[int]time.Time)}
}

// Press records key as held at now. It reports whether the key was
// previously up, i.e. whether this is a new press edge.
func (a *AutoRelease) Press(key int, now time.Time) bool {
	_, held := a.pressed[key]
	a.pressed[key] = now
	return !held
}

// Expired removes and returns, in ascending order, the keys whose hold
// has elapsed at now.
func (a *AutoRelease) Expired(now time.Time) []int {
	var out []int
	for key := 0; key < 16; key++ {
		at, ok := a.pressed[key]
		if ok && now.Sub(at) >= a.Hold {
			delete(a.pressed, key)
			out = append(out, key)
		}
	}
	return out
}

// Held reports whether key is currently considered down.
func (a *AutoRelease) Held(key int) bool {
	_, ok := a.pressed[key]
	return ok
}
