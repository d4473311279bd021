package audio

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync/atomic"
	"time"

	"github.com/jinjor/desktop-synth/src/config"
	"github.com/jinjor/desktop-synth/src/logger"
	"github.com/jinjor/desktop-synth/src/synth"
)

const (
	bitDepthInBytes  = 2
	maxPendingEvents = 256
)

// ----- Audio ----- //

// Audio owns the voice bank and feeds it to an output device. Only the
// goroutine calling Read touches the bank; everything else sends events.
type Audio struct {
	ctx        context.Context
	output     output
	bank       *synth.Bank
	sampleRate float64
	channels   int
	blockSize  int
	keys       *midiPolicy
	CommandCh  chan []string
	eventCh    chan event
	pending    []event   // length: <= maxPendingEvents
	out        []float64 // length: blockSize * channels
	lastRead   time.Time
	voices     atomic.Int64
	peak       atomic.Uint64
}

var _ io.Reader = (*Audio)(nil)

// NewAudio ...
func NewAudio(cfg *config.Config) (*Audio, error) {
	var out output
	var err error
	switch cfg.Audio.Backend {
	case "oto":
		out, err = newOtoOutput(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BlockSize*cfg.Audio.Channels*bitDepthInBytes)
	case "malgo":
		out, err = newMalgoOutput(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BlockSize)
	case "none":
		out = nullOutput{}
	default:
		err = fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
	}
	if err != nil {
		return nil, err
	}
	a, err := newAudio(cfg, out)
	if err != nil {
		out.Close()
		return nil, err
	}
	go processCommands(a, a.CommandCh)
	return a, nil
}

func newAudio(cfg *config.Config, out output) (*Audio, error) {
	bank, err := newBank(cfg)
	if err != nil {
		return nil, err
	}
	keys, err := newMidiPolicy(cfg.MIDI.WaveformKeys)
	if err != nil {
		return nil, err
	}
	return &Audio{
		ctx:        context.Background(),
		output:     out,
		bank:       bank,
		sampleRate: float64(cfg.Audio.SampleRate),
		channels:   cfg.Audio.Channels,
		blockSize:  cfg.Audio.BlockSize,
		keys:       keys,
		CommandCh:  make(chan []string, 256),
		eventCh:    make(chan event, maxPendingEvents),
		pending:    make([]event, 0, maxPendingEvents),
		out:        make([]float64, cfg.Audio.BlockSize*cfg.Audio.Channels),
	}, nil
}

func newBank(cfg *config.Config) (*synth.Bank, error) {
	waveform, err := synth.ParseWaveform(cfg.Synth.Waveform)
	if err != nil {
		return nil, err
	}
	bank := synth.NewBank(synth.Params{
		Polyphony:  cfg.Synth.Polyphony,
		Attack:     cfg.Synth.Attack,
		Decay:      cfg.Synth.Decay,
		MasterGain: cfg.Synth.MasterGain,
	})
	bank.SetWaveform(waveform)
	bank.Prepare(float64(cfg.Audio.SampleRate))
	return bank, nil
}

func (a *Audio) bytesPerFrame() int {
	return bitDepthInBytes * a.channels
}

func (a *Audio) Read(buf []byte) (int, error) {
	select {
	case <-a.ctx.Done():
		logger.L.Debug("Read() interrupted.")
		return 0, io.EOF
	default:
	}
	timestamp := time.Now()
	frames := len(buf) / a.bytesPerFrame()
	a.drainEvents(frames)

	peak := 0.0
	next := 0
	for start := 0; start < frames; start += a.blockSize {
		n := a.blockSize
		if frames-start < n {
			n = frames - start
		}
		out := a.out[:n*a.channels]
		end := next
		for end < len(a.pending) && a.pending[end].offset < start+n {
			end++
		}
		renderEvents(a.bank, a.pending[next:end], start, out, a.channels)
		next = end
		writeBuffer(out, buf[start*a.bytesPerFrame():])
		for i := 0; i < len(out); i += a.channels {
			peak = math.Max(peak, math.Abs(out[i]))
		}
	}
	a.pending = a.pending[:0]
	a.lastRead = timestamp
	a.voices.Store(int64(a.bank.ActiveVoices()))
	a.peak.Store(math.Float64bits(peak))
	return frames * a.bytesPerFrame(), nil
}

// drainEvents moves queued events to pending and places them in the next
// frames, keeping arrival order.
func (a *Audio) drainEvents(frames int) {
	last := 0
loop:
	for len(a.pending) < cap(a.pending) {
		select {
		case e := <-a.eventCh:
			offset := 0
			if !a.lastRead.IsZero() && e.at.After(a.lastRead) {
				offset = int(e.at.Sub(a.lastRead).Seconds() * a.sampleRate)
			}
			if offset >= frames {
				offset = frames - 1
			}
			if offset < last {
				offset = last
			}
			e.offset = offset
			last = offset
			a.pending = append(a.pending, e)
		default:
			break loop
		}
	}
}

// writeBuffer writes interleaved samples as signed 16-bit little endian.
func writeBuffer(out []float64, buf []byte) {
	for i, value := range out {
		b := toInt16(value)
		buf[bitDepthInBytes*i] = byte(b)
		buf[bitDepthInBytes*i+1] = byte(b >> 8)
	}
}

func toInt16(value float64) int16 {
	const max = 32767
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	} else if value != value {
		value = 0
	}
	return int16(value * max)
}

// ----- Events ----- //

func (a *Audio) send(e event) {
	if e.at.IsZero() {
		e.at = time.Now()
	}
	select {
	case a.eventCh <- e:
	default:
		logger.L.Warnw("event queue full, dropping event", "kind", e.kind)
	}
}

// NoteOn plays frequency with the current waveform. velocity is 0-127.
func (a *Audio) NoteOn(frequency, velocity float64) {
	a.send(event{kind: eventNoteOn, frequency: frequency, velocity: velocity})
}

// NoteOff ...
func (a *Audio) NoteOff(frequency float64) {
	a.send(event{kind: eventNoteOff, frequency: frequency})
}

// SetWaveform changes the waveform of notes played from now on.
func (a *Audio) SetWaveform(w synth.Waveform) {
	a.send(event{kind: eventWaveform, waveform: w})
}

// SetMasterGain ...
func (a *Audio) SetMasterGain(g float64) {
	a.send(event{kind: eventGain, gain: g})
}

// AllNotesOff releases every sounding voice.
func (a *Audio) AllNotesOff() {
	a.send(event{kind: eventAllOff})
}

// AddMidiEvent decodes a raw MIDI message and queues it.
func (a *Audio) AddMidiEvent(data []byte) {
	e, ok := a.keys.decode(data)
	if !ok {
		return
	}
	logger.L.Debugw("got MIDI event", "kind", e.kind, "data", data)
	a.send(e)
}

// Stats returns the number of sounding voices and the peak of the last block.
func (a *Audio) Stats() (int, float64) {
	return int(a.voices.Load()), math.Float64frombits(a.peak.Load())
}

// ----- Lifecycle ----- //

func processCommands(audio *Audio, commandCh <-chan []string) {
	for command := range commandCh {
		if err := audio.update(command); err != nil {
			logger.L.Warnw("failed to apply command", "command", command, "error", err)
		}
	}
	logger.L.Debug("processCommands() ended.")
}

// Close ...
func (a *Audio) Close() error {
	logger.L.Info("Closing Audio...")
	close(a.CommandCh)
	return a.output.Close()
}

// Start plays until ctx is cancelled.
func (a *Audio) Start(ctx context.Context) error {
	a.ctx = ctx
	if err := a.output.play(ctx, a); err != nil {
		return err
	}
	logger.L.Info("Start() ended.")
	return nil
}
