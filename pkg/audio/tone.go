package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

const (
	DefaultSampleRate = 44100
	// DefaultFrequency is the pitch of the beep in Hz.
	DefaultFrequency = 440
	// DefaultBeepMillis is how long one Beep sounds.
	DefaultBeepMillis = 100

	amplitude     = 0.2
	bytesPerFrame = 4 // mono float32
)

// ToneSource is an io.Reader that yields mono float32 little-endian
// samples: a square wave while a beep is pending and silence otherwise.
type ToneSource struct {
	mu        sync.Mutex
	remaining int
	phase     int
	period    int
	beepLen   int
}

func NewToneSource(sampleRate, frequency, beepMillis int) *ToneSource {
	period := sampleRate / frequency
	if period < 2 {
		period = 2
	}
	return &ToneSource{
		period:  period,
		beepLen: sampleRate * beepMillis / 1000,
	}
}

// Trigger queues one beep. A beep that is still sounding is extended
// rather than stacked.
func (t *ToneSource) Trigger() {
	t.mu.Lock()
	t.remaining = t.beepLen
	t.mu.Unlock()
}

// Pending reports how many samples of tone are left.
func (t *ToneSource) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *ToneSource) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frames := len(p) / bytesPerFrame
	for i := 0; i < frames; i++ {
		var s float32
		if t.remaining > 0 {
			s = amplitude
			if t.phase >= t.period/2 {
				s = -amplitude
			}
			t.phase = (t.phase + 1) % t.period
			t.remaining--
		}
		binary.LittleEndian.PutUint32(p[i*bytesPerFrame:], math.Float32bits(s))
	}
	return frames * bytesPerFrame, nil
}
