package synth

import (
	"fmt"
	"math"
)

// FrequencyTolerance is the distance in Hz under which two notes are the same.
const FrequencyTolerance = 0.1

const defaultSampleRate = 48000

// Params configures a Bank.
type Params struct {
	Polyphony  int
	Attack     float64 // per-sample gain multiplier while held, > 1
	Decay      float64 // per-sample gain multiplier once released, < 1
	MasterGain float64
}

// DefaultParams ...
func DefaultParams() Params {
	return Params{
		Polyphony:  5,
		Attack:     1.05,
		Decay:      0.95,
		MasterGain: 1.0,
	}
}

// ----- Bank ----- //

// Bank is the polyphonic engine. It is not safe for concurrent use: every
// method must be called from the thread that renders audio.
type Bank struct {
	// pooled + active = polyphony
	pooled     []*Voice
	active     []*Voice
	waveform   Waveform
	sampleRate float64
	attack     float64
	decay      float64
	masterGain float64
}

// NewBank ...
func NewBank(p Params) *Bank {
	if p.Polyphony < 1 {
		p.Polyphony = 1
	}
	pooled := make([]*Voice, p.Polyphony)
	for i := range pooled {
		pooled[i] = &Voice{}
	}
	return &Bank{
		pooled:     pooled,
		active:     make([]*Voice, 0, p.Polyphony),
		waveform:   Sine,
		sampleRate: defaultSampleRate,
		attack:     p.Attack,
		decay:      p.Decay,
		masterGain: p.MasterGain,
	}
}

// Prepare sets the sample rate of the stream, including sounding voices.
func (b *Bank) Prepare(sampleRate float64) {
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		panic(fmt.Sprintf("invalid sample rate %v", sampleRate))
	}
	b.sampleRate = sampleRate
	for _, v := range b.active {
		v.SetSampleRate(sampleRate)
	}
}

// SampleRate ...
func (b *Bank) SampleRate() float64 {
	return b.sampleRate
}

// SetWaveform sets the waveform of voices created from now on.
// Sounding voices keep theirs.
func (b *Bank) SetWaveform(w Waveform) {
	b.waveform = w
}

// Waveform ...
func (b *Bank) Waveform() Waveform {
	return b.waveform
}

// SetMasterGain ...
func (b *Bank) SetMasterGain(g float64) {
	b.masterGain = g
}

// MasterGain ...
func (b *Bank) MasterGain() float64 {
	return b.masterGain
}

// ActiveVoices ...
func (b *Bank) ActiveVoices() int {
	return len(b.active)
}

// Polyphony ...
func (b *Bank) Polyphony() int {
	return cap(b.active)
}

func (b *Bank) find(frequency float64) *Voice {
	for _, v := range b.active {
		if math.Abs(v.frequency-frequency) < FrequencyTolerance {
			return v
		}
	}
	return nil
}

// NoteOn starts a voice. It is dropped when the bank is full and ignored when
// the frequency is already sounding.
func (b *Bank) NoteOn(frequency, velocity float64, waveform Waveform) {
	lenPooled := len(b.pooled)
	if lenPooled == 0 {
		return
	}
	if b.find(frequency) != nil {
		return
	}
	v := b.pooled[lenPooled-1]
	b.pooled = b.pooled[:lenPooled-1]
	v.reset(frequency, velocity, waveform, b.sampleRate, b.attack, b.decay)
	b.active = append(b.active, v)
}

// NoteOff releases the voice playing frequency, if any.
func (b *Bank) NoteOff(frequency float64) {
	if v := b.find(frequency); v != nil {
		v.SetReleased()
	}
}

// ReleaseAll releases every sounding voice.
func (b *Bank) ReleaseAll() {
	for _, v := range b.active {
		v.SetReleased()
	}
}

// RenderBuffer fills buf, interleaved with the given number of channels.
// Every channel receives the same mono mix scaled by the master gain.
func (b *Bank) RenderBuffer(buf []float64, channels int) {
	if channels < 1 {
		return
	}
	frames := len(buf) / channels
	for i := 0; i < frames; i++ {
		mixed := 0.0
		kept := 0
		for _, v := range b.active {
			v.Accumulate(&mixed)
			if v.IsSilent() {
				b.pooled = append(b.pooled, v)
				continue
			}
			b.active[kept] = v
			kept++
		}
		for j := kept; j < len(b.active); j++ {
			b.active[j] = nil
		}
		b.active = b.active[:kept]
		mixed *= b.masterGain
		frame := buf[i*channels : (i+1)*channels]
		for ch := range frame {
			frame[ch] = mixed
		}
	}
	for i := frames * channels; i < len(buf); i++ {
		buf[i] = 0
	}
}
