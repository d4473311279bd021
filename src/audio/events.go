package audio

import (
	"time"

	"github.com/jinjor/desktop-synth/src/synth"
)

// ----- Event ----- //

type eventKind int

const (
	eventNoteOn eventKind = iota
	eventNoteOff
	eventWaveform
	eventGain
	eventAllOff
)

func (k eventKind) String() string {
	switch k {
	case eventNoteOn:
		return "note_on"
	case eventNoteOff:
		return "note_off"
	case eventWaveform:
		return "wave"
	case eventGain:
		return "gain"
	case eventAllOff:
		return "all_off"
	}
	return "unknown"
}

type event struct {
	kind      eventKind
	frequency float64
	velocity  float64 // 0-127
	waveform  synth.Waveform
	// note-on events without a waveform use the bank's pending one
	hasWaveform bool
	gain        float64
	at          time.Time
	offset      int // frame
}

func (e *event) apply(bank *synth.Bank) {
	switch e.kind {
	case eventNoteOn:
		w := bank.Waveform()
		if e.hasWaveform {
			w = e.waveform
		}
		bank.NoteOn(e.frequency, e.velocity, w)
	case eventNoteOff:
		bank.NoteOff(e.frequency)
	case eventWaveform:
		bank.SetWaveform(e.waveform)
	case eventGain:
		bank.SetMasterGain(e.gain)
	case eventAllOff:
		bank.ReleaseAll()
	}
}

// ----- Scheduler ----- //

// renderEvents renders out and applies each event at its frame. Offsets are
// counted from base, the frame out starts at. events must be sorted by offset.
func renderEvents(bank *synth.Bank, events []event, base int, out []float64, channels int) {
	frames := len(out) / channels
	pos := 0
	for i := range events {
		at := events[i].offset - base
		if at > frames {
			at = frames
		}
		if at > pos {
			bank.RenderBuffer(out[pos*channels:at*channels], channels)
			pos = at
		}
		events[i].apply(bank)
	}
	if pos < frames {
		bank.RenderBuffer(out[pos*channels:frames*channels], channels)
	}
}
