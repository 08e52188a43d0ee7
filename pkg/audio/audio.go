package audio

import (
	"io"
	"sync"

	"chip8/pkg/cpu"

	"github.com/ebitengine/oto/v3"
)

// Speaker is a cpu.Speaker that owns an output device.
type Speaker interface {
	cpu.Speaker
	io.Closer
}

// Beeper plays a square-wave tone through oto each time the sound timer
// expires.
type Beeper struct {
	ctx    *oto.Context
	player *oto.Player
	tone   *ToneSource
	mu     sync.Mutex
}

// NewBeeper opens the default audio device. Only one oto context may
// exist per process.
func NewBeeper(sampleRate int) (*Beeper, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	b := &Beeper{
		ctx:  ctx,
		tone: NewToneSource(sampleRate, DefaultFrequency, DefaultBeepMillis),
	}
	b.player = ctx.NewPlayer(b.tone)
	b.player.Play()
	return b, nil
}

func (b *Beeper) Beep() {
	b.tone.Trigger()
}

func (b *Beeper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.player == nil {
		return nil
	}
	err := b.player.Close()
	b.player = nil
	return err
}

// Silent discards beeps.
type Silent struct{}

func (Silent) Beep()        {}
func (Silent) Close() error { return nil }

// Open returns a Beeper when enabled, or Silent when audio is disabled or
// the device cannot be opened. The error reports why audio fell back.
func Open(enabled bool, sampleRate int) (Speaker, error) {
	if !enabled {
		return Silent{}, nil
	}
	b, err := NewBeeper(sampleRate)
	if err != nil {
		return Silent{}, err
	}
	return b, nil
}
