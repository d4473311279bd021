package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/jinjor/desktop-synth/src/config"
	"github.com/jinjor/desktop-synth/src/synth"
)

func expectNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("expected no error, but got: %v", err)
	}
}

func newTestAudio(t *testing.T) *Audio {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Backend = "none"
	a, err := newAudio(cfg, nullOutput{})
	if err != nil {
		t.Fatalf("failed to create audio: %v", err)
	}
	return a
}

func readSamples(t *testing.T, a *Audio, frames int) []int16 {
	t.Helper()
	buf := make([]byte, frames*a.bytesPerFrame())
	n, err := a.Read(buf)
	expectNoError(t, err)
	if n != len(buf) {
		t.Fatalf("short read: %d of %d", n, len(buf))
	}
	samples := make([]int16, len(buf)/bitDepthInBytes)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return samples
}

func TestBenchmark(t *testing.T) {
	times := 200
	a := newTestAudio(t)
	defer func() { expectNoError(t, a.Close()) }()
	expectNoError(t, a.update([]string{"wave", "sawtooth"}))
	for n := 0; n < 5; n++ {
		a.NoteOn(220*math.Pow(2, float64(n)/12), 100)
	}
	out := make([]byte, a.blockSize*a.bytesPerFrame())
	start := time.Now()
	for n := 0; n < times; n++ {
		_, err := a.Read(out)
		expectNoError(t, err)
	}
	average := time.Since(start) / time.Duration(times)
	t.Logf("average process time: %v", average)
}

func TestReadRendersQueuedNotes(t *testing.T) {
	a := newTestAudio(t)
	a.NoteOn(440, 127)
	samples := readSamples(t, a, 512)
	voices, peak := a.Stats()
	if voices != 1 {
		t.Errorf("expected 1 voice, got %d", voices)
	}
	if peak <= 0 {
		t.Errorf("expected a positive peak, got %v", peak)
	}
	nonZero := 0
	for i := 0; i < len(samples); i += 2 {
		if samples[i] != samples[i+1] {
			t.Fatalf("channels differ at frame %d", i/2)
		}
		if samples[i] != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("expected sound")
	}

	a.NoteOff(440)
	for i := 0; i < 4; i++ {
		readSamples(t, a, 512)
	}
	if voices, _ := a.Stats(); voices != 0 {
		t.Errorf("voice should be gone, got %d", voices)
	}
	for _, s := range readSamples(t, a, 512) {
		if s != 0 {
			t.Fatalf("expected silence, got %d", s)
		}
	}
}

func TestRenderEventsAtFrameOffset(t *testing.T) {
	cfg := config.Default()
	bank, err := newBank(cfg)
	expectNoError(t, err)
	out := make([]float64, 200*2)
	events := []event{
		{kind: eventNoteOn, frequency: 440, velocity: 127, waveform: synth.Square, hasWaveform: true, offset: 1100},
	}
	renderEvents(bank, events, 1000, out, 2)
	for i := 0; i < 100*2; i++ {
		if out[i] != 0 {
			t.Fatalf("sample %d should be silent before the note", i)
		}
	}
	if out[200] == 0 || out[201] == 0 {
		t.Errorf("note should start at frame 100, got %v %v", out[200], out[201])
	}
}

func TestRenderEventsKeepsOrderAtSameFrame(t *testing.T) {
	cfg := config.Default()
	bank, err := newBank(cfg)
	expectNoError(t, err)
	events := []event{
		{kind: eventWaveform, waveform: synth.Square, offset: 10},
		{kind: eventNoteOn, frequency: 440, velocity: 100, offset: 10},
		{kind: eventWaveform, waveform: synth.Sawtooth, offset: 10},
		{kind: eventNoteOn, frequency: 660, velocity: 100, offset: 10},
	}
	out := make([]float64, 20)
	renderEvents(bank, events, 0, out, 1)
	if bank.ActiveVoices() != 2 {
		t.Fatalf("expected 2 voices, got %d", bank.ActiveVoices())
	}
	if bank.Waveform() != synth.Sawtooth {
		t.Errorf("pending waveform: got %v", bank.Waveform())
	}
}

func TestDrainEventsPlacesEventsByArrival(t *testing.T) {
	a := newTestAudio(t)
	t0 := time.Now()
	a.lastRead = t0
	a.send(event{kind: eventNoteOn, frequency: 440, velocity: 100, at: t0.Add(10 * time.Millisecond)})
	a.send(event{kind: eventNoteOff, frequency: 440, at: t0.Add(5 * time.Millisecond)})
	a.send(event{kind: eventNoteOn, frequency: 550, velocity: 100, at: t0.Add(time.Second)})
	a.send(event{kind: eventNoteOn, frequency: 660, velocity: 100, at: t0.Add(-time.Second)})
	a.drainEvents(1024)
	want := []int{480, 480, 1023, 1023}
	if len(a.pending) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(a.pending))
	}
	for i, e := range a.pending {
		if e.offset != want[i] {
			t.Errorf("event %d: offset %d, want %d", i, e.offset, want[i])
		}
	}
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	a := newTestAudio(t)
	for i := 0; i < maxPendingEvents+10; i++ {
		a.NoteOff(float64(100 + i))
	}
	a.drainEvents(1024)
	if len(a.pending) != maxPendingEvents {
		t.Errorf("expected %d events, got %d", maxPendingEvents, len(a.pending))
	}
}

func TestReadAcrossBlocks(t *testing.T) {
	a := newTestAudio(t)
	a.NoteOn(440, 127)
	// three and a half blocks in one read
	samples := readSamples(t, a, a.blockSize*3+a.blockSize/2)
	last := samples[len(samples)-2:]
	if last[0] == 0 && last[1] == 0 {
		t.Error("expected sound at the end of the buffer")
	}
}

func TestMidiWaveformKeys(t *testing.T) {
	a := newTestAudio(t)
	a.AddMidiEvent([]byte{0x90, 50, 100})
	readSamples(t, a, 64)
	if a.bank.Waveform() != synth.Square {
		t.Errorf("note 50 should select square, got %v", a.bank.Waveform())
	}
	if a.bank.ActiveVoices() != 0 {
		t.Errorf("waveform keys should not sound")
	}
	a.AddMidiEvent([]byte{0x90, 69, 100})
	readSamples(t, a, 64)
	if a.bank.ActiveVoices() != 1 {
		t.Fatalf("expected 1 voice, got %d", a.bank.ActiveVoices())
	}
	a.AddMidiEvent([]byte{0x90, 48, 100})
	a.AddMidiEvent([]byte{0x90, 72, 100})
	readSamples(t, a, 64)
	v := a.bank.ActiveVoices()
	if v != 2 {
		t.Fatalf("expected 2 voices, got %d", v)
	}
	if a.bank.Waveform() != synth.Sine {
		t.Errorf("note 48 should select sine, got %v", a.bank.Waveform())
	}
}

func TestWriteBufferClips(t *testing.T) {
	buf := make([]byte, 8)
	writeBuffer([]float64{2, -2, 0.5, math.NaN()}, buf)
	want := []int16{32767, -32767, 16383, 0}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(buf[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}
