package audio

import (
	"math"
	"testing"

	"github.com/jinjor/desktop-synth/src/synth"
)

func TestNoteToFreq(t *testing.T) {
	cases := map[int]float64{
		69: 440,
		57: 220,
		81: 880,
		60: 261.6255653,
	}
	for note, want := range cases {
		if got := noteToFreq(note); math.Abs(got-want) > 1e-6 {
			t.Errorf("note %d: got %v, want %v", note, got, want)
		}
	}
}

func TestMidiPolicyDecode(t *testing.T) {
	p, err := newMidiPolicy(map[int]string{48: "sine", 50: "square", 52: "sawtooth"})
	expectNoError(t, err)

	cases := []struct {
		name string
		data []byte
		ok   bool
		want event
	}{
		{"note on", []byte{0x91, 69, 64}, true, event{kind: eventNoteOn, frequency: 440, velocity: 64}},
		{"note off", []byte{0x80, 69, 0}, true, event{kind: eventNoteOff, frequency: 440}},
		{"zero velocity", []byte{0x90, 69, 0}, true, event{kind: eventNoteOff, frequency: 440}},
		{"waveform key", []byte{0x90, 52, 90}, true, event{kind: eventWaveform, waveform: synth.Sawtooth}},
		{"waveform key off", []byte{0x80, 52, 0}, true, event{kind: eventNoteOff, frequency: noteToFreq(52)}},
		{"all notes off", []byte{0xB0, 123, 0}, true, event{kind: eventAllOff}},
		{"other cc", []byte{0xB0, 7, 100}, false, event{}},
		{"pitch bend", []byte{0xE0, 0, 64}, false, event{}},
		{"short", []byte{0x90, 60}, false, event{}},
	}
	for _, c := range cases {
		got, ok := p.decode(c.data)
		if ok != c.ok {
			t.Errorf("%s: ok = %v, want %v", c.name, ok, c.ok)
			continue
		}
		if got.kind != c.want.kind || got.waveform != c.want.waveform || got.velocity != c.want.velocity ||
			math.Abs(got.frequency-c.want.frequency) > 1e-9 {
			t.Errorf("%s: got %+v, want %+v", c.name, got, c.want)
		}
	}
}

func TestMidiPolicyRejectsUnknownWaveform(t *testing.T) {
	if _, err := newMidiPolicy(map[int]string{48: "noise"}); err == nil {
		t.Error("expected error")
	}
}
