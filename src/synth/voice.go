package synth

import (
	"fmt"
	"math"
)

const (
	// CycleResolution is the number of phase counter steps in one waveform cycle.
	CycleResolution = 1000000
	// MaxVelocity is the upper bound of MIDI-style velocities.
	MaxVelocity = 127.0
	// SilenceThreshold is the gain under which a released voice snaps to zero.
	SilenceThreshold = 1e-6

	initialGain = 0.01
)

// ----- Waveform ----- //

// Waveform selects the generator function of a voice.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Sawtooth
)

func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Square:
		return "square"
	case Sawtooth:
		return "sawtooth"
	}
	return fmt.Sprintf("waveform(%d)", int(w))
}

// ParseWaveform ...
func ParseWaveform(s string) (Waveform, error) {
	switch s {
	case "sine":
		return Sine, nil
	case "square":
		return Square, nil
	case "sawtooth", "saw":
		return Sawtooth, nil
	}
	return Sine, fmt.Errorf("unknown waveform %q", s)
}

// ----- Stage ----- //

type stage int

const (
	stageSustaining stage = iota
	stageReleasing
)

// ----- Voice ----- //

// Voice is one sounding pitch: a fixed-point oscillator shaped by an
// exponential attack/decay envelope.
type Voice struct {
	waveform   Waveform
	frequency  float64 // Hz
	velocity   float64 // 0-1
	gain       float64 // 0-velocity
	stage      stage
	phase      int64 // 0 ~ CycleResolution-1
	sampleRate float64
	attack     float64 // > 1
	decay      float64 // < 1
}

// NewVoice creates a voice. velocity is MIDI-style (0-127).
func NewVoice(frequency, velocity float64, waveform Waveform, sampleRate, attack, decay float64) *Voice {
	v := &Voice{}
	v.reset(frequency, velocity, waveform, sampleRate, attack, decay)
	return v
}

func (v *Voice) reset(frequency, velocity float64, waveform Waveform, sampleRate, attack, decay float64) {
	v.waveform = waveform
	v.frequency = frequency
	v.velocity = normalizeVelocity(velocity)
	v.gain = math.Min(initialGain, v.velocity)
	v.stage = stageSustaining
	v.phase = 0
	v.sampleRate = sampleRate
	v.attack = attack
	v.decay = decay
}

func normalizeVelocity(velocity float64) float64 {
	if !(velocity > 0) {
		return 0
	}
	if velocity > MaxVelocity {
		velocity = MaxVelocity
	}
	return velocity / MaxVelocity
}

// SetSampleRate ...
func (v *Voice) SetSampleRate(sampleRate float64) {
	v.sampleRate = sampleRate
}

// SetFrequency ...
func (v *Voice) SetFrequency(frequency float64) {
	v.frequency = frequency
}

// SetReleased starts the decay. Calling it again does nothing.
func (v *Voice) SetReleased() {
	v.stage = stageReleasing
}

// Released ...
func (v *Voice) Released() bool {
	return v.stage == stageReleasing
}

// Frequency ...
func (v *Voice) Frequency() float64 {
	return v.frequency
}

// Velocity returns the normalized velocity (0-1).
func (v *Voice) Velocity() float64 {
	return v.velocity
}

// Gain returns the current envelope amplitude.
func (v *Voice) Gain() float64 {
	return v.gain
}

// Waveform ...
func (v *Voice) Waveform() Waveform {
	return v.waveform
}

// IsSilent reports whether the voice can be dropped. A held voice never is.
func (v *Voice) IsSilent() bool {
	return v.stage == stageReleasing && v.gain <= 0
}

// Accumulate adds the current sample into mix, then steps the envelope.
func (v *Voice) Accumulate(mix *float64) {
	*mix += v.generateSample()
	v.envelopeStep()
}

func (v *Voice) envelopeStep() {
	switch v.stage {
	case stageSustaining:
		v.gain *= v.attack
		// negated so that NaN also clamps
		if !(v.gain < v.velocity) {
			v.gain = v.velocity
		}
	case stageReleasing:
		v.gain *= v.decay
		if !(v.gain > SilenceThreshold) {
			v.gain = 0
		}
	}
}

func (v *Voice) phaseIncrement() int64 {
	return int64(math.Round(v.frequency / v.sampleRate * CycleResolution))
}

func (v *Voice) advancePhase() {
	v.phase += v.phaseIncrement()
	if v.phase >= CycleResolution {
		v.phase -= CycleResolution
		if v.phase >= CycleResolution {
			// only above the sample rate
			v.phase %= CycleResolution
		}
	}
	if v.phase < 0 {
		v.phase = 0
	}
}

func (v *Voice) generateSample() float64 {
	p := float64(v.phase) / CycleResolution
	value := 0.0
	switch v.waveform {
	case Sine:
		value = math.Sin(2*math.Pi*p) * v.gain
	case Square:
		if p < 0.5 {
			value = v.gain
		} else {
			value = -v.gain
		}
	case Sawtooth:
		value = (2*p - 1) * v.gain
	}
	v.advancePhase()
	return value
}
