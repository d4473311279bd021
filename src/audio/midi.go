package audio

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jinjor/desktop-synth/src/logger"
	"github.com/jinjor/desktop-synth/src/synth"
	"gitlab.com/gomidi/midi"
	"gitlab.com/gomidi/rtmididrv"
)

const baseFreq = 440.0
const ccAllNotesOff = 123

func noteToFreq(note int) float64 {
	return baseFreq * math.Pow(2, float64(note-69)/12)
}

// ----- MIDI Policy ----- //

// midiPolicy turns raw MIDI messages into bank events. Some keys select the
// waveform instead of sounding.
type midiPolicy struct {
	waveformKeys map[int]synth.Waveform
}

func newMidiPolicy(keys map[int]string) (*midiPolicy, error) {
	p := &midiPolicy{waveformKeys: make(map[int]synth.Waveform, len(keys))}
	for note, name := range keys {
		w, err := synth.ParseWaveform(name)
		if err != nil {
			return nil, fmt.Errorf("waveform key %d: %w", note, err)
		}
		p.waveformKeys[note] = w
	}
	return p, nil
}

func (p *midiPolicy) decode(data []byte) (event, bool) {
	if len(data) < 3 {
		return event{}, false
	}
	note := int(data[1])
	switch data[0] >> 4 {
	case 0x8:
		return event{kind: eventNoteOff, frequency: noteToFreq(note)}, true
	case 0x9:
		if data[2] == 0 {
			return event{kind: eventNoteOff, frequency: noteToFreq(note)}, true
		}
		if w, ok := p.waveformKeys[note]; ok {
			return event{kind: eventWaveform, waveform: w}, true
		}
		return event{kind: eventNoteOn, frequency: noteToFreq(note), velocity: float64(data[2])}, true
	case 0xB:
		if data[1] == ccAllNotesOff {
			return event{kind: eventAllOff}, true
		}
	}
	return event{}, false
}

// ----- MIDI IN ----- //

func selectIn(drv midi.Driver, name string) (midi.In, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, err
	}
	logger.L.Infof("MIDI IN: %v", ins)
	for _, in := range ins {
		if name == "" || strings.Contains(in.String(), name) {
			return in, nil
		}
	}
	return nil, nil
}

// ListenToMidiIn forwards raw messages from the MIDI input whose name contains
// port. The channel is closed when ctx is done or no input could be opened.
func ListenToMidiIn(ctx context.Context, port string) <-chan []byte {
	ch := make(chan []byte, 1024)
	go func() {
		defer close(ch)
		drv, err := rtmididrv.New()
		if err != nil {
			logger.L.Warnf("failed to initialize MIDI driver: %v", err)
			return
		}
		defer func() {
			if err := drv.Close(); err != nil {
				logger.L.Warnf("failed to close MIDI driver: %v", err)
			}
		}()
		in, err := selectIn(drv, port)
		if err != nil {
			logger.L.Warnf("failed to get MIDI IN: %v", err)
			return
		}
		if in == nil {
			logger.L.Warnf("MIDI IN not found (port %q)", port)
			return
		}
		if err := in.Open(); err != nil {
			logger.L.Warnf("failed to open MIDI IN: %v", err)
			return
		}
		logger.L.Info("opened " + in.String())
		defer func() {
			if err := in.Close(); err != nil {
				logger.L.Warnf("failed to close MIDI IN: %v", err)
			}
		}()
		if err := in.SetListener(func(data []byte, deltaMicroseconds int64) {
			msg := make([]byte, len(data))
			copy(msg, data)
			select {
			case ch <- msg:
			default:
				logger.L.Warn("MIDI IN queue full, dropping message")
			}
		}); err != nil {
			logger.L.Warn("failed to set listener: " + err.Error())
			return
		}
		defer func() {
			logger.L.Info("stop listening MIDI IN...")
			if err := in.StopListening(); err != nil {
				logger.L.Warnf("failed to stop listening: %v", err)
			}
		}()
		<-ctx.Done()
	}()
	return ch
}
