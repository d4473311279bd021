package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jinjor/desktop-synth/src/config"
	"github.com/jinjor/desktop-synth/src/logger"
	"github.com/jinjor/desktop-synth/src/synth"
	"gopkg.in/yaml.v3"
)

// tail rendered after the last event when a score has no duration
const defaultTail = 1.0 // sec

// ----- Score ----- //

// Score is a timed list of events rendered offline.
type Score struct {
	Duration float64      `yaml:"duration"` // sec
	Events   []ScoreEvent `yaml:"events"`
}

// ScoreEvent ...
type ScoreEvent struct {
	At       float64  `yaml:"at"` // sec
	Type     string   `yaml:"type"`
	Freq     float64  `yaml:"freq"`
	Note     *int     `yaml:"note"`
	Velocity *float64 `yaml:"velocity"`
	Wave     string   `yaml:"wave"`
	Gain     float64  `yaml:"gain"`
}

// LoadScore ...
func LoadScore(path string) (*Score, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read score %s: %w", path, err)
	}
	s, err := ParseScore(data)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", path, err)
	}
	return s, nil
}

// ParseScore ...
func ParseScore(data []byte) (*Score, error) {
	s := &Score{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Duration < 0 {
		return nil, fmt.Errorf("negative duration %v", s.Duration)
	}
	for i := range s.Events {
		if _, err := s.Events[i].toEvent(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return s, nil
}

func (se *ScoreEvent) frequency() float64 {
	if se.Freq == 0 && se.Note != nil {
		return noteToFreq(*se.Note)
	}
	return se.Freq
}

func (se *ScoreEvent) toEvent() (event, error) {
	if se.At < 0 || math.IsNaN(se.At) {
		return event{}, fmt.Errorf("invalid time %v", se.At)
	}
	switch se.Type {
	case "note_on":
		freq := se.frequency()
		if freq <= 0 {
			return event{}, fmt.Errorf("note_on needs freq or note")
		}
		e := event{kind: eventNoteOn, frequency: freq, velocity: defaultVelocity}
		if se.Velocity != nil {
			e.velocity = *se.Velocity
		}
		if se.Wave != "" {
			w, err := synth.ParseWaveform(se.Wave)
			if err != nil {
				return event{}, err
			}
			e.waveform = w
			e.hasWaveform = true
		}
		return e, nil
	case "note_off":
		freq := se.frequency()
		if freq <= 0 {
			return event{}, fmt.Errorf("note_off needs freq or note")
		}
		return event{kind: eventNoteOff, frequency: freq}, nil
	case "wave":
		w, err := synth.ParseWaveform(se.Wave)
		if err != nil {
			return event{}, err
		}
		return event{kind: eventWaveform, waveform: w}, nil
	case "gain":
		return event{kind: eventGain, gain: se.Gain}, nil
	case "all_off":
		return event{kind: eventAllOff}, nil
	}
	return event{}, fmt.Errorf("unknown event type %q", se.Type)
}

// events returns the score as events with absolute frame offsets, in time order.
func (s *Score) events(sampleRate float64) ([]event, error) {
	scoreEvents := make([]ScoreEvent, len(s.Events))
	copy(scoreEvents, s.Events)
	sort.SliceStable(scoreEvents, func(i, j int) bool {
		return scoreEvents[i].At < scoreEvents[j].At
	})
	events := make([]event, 0, len(scoreEvents))
	for i := range scoreEvents {
		e, err := scoreEvents[i].toEvent()
		if err != nil {
			return nil, err
		}
		e.offset = int(math.Round(scoreEvents[i].At * sampleRate))
		events = append(events, e)
	}
	return events, nil
}

func (s *Score) length() float64 {
	if s.Duration > 0 {
		return s.Duration
	}
	last := 0.0
	for _, e := range s.Events {
		last = math.Max(last, e.At)
	}
	return last + defaultTail
}

// ----- Render ----- //

// RenderScore renders s with the synth settings of cfg and writes a 16-bit
// PCM WAV file to w.
func RenderScore(s *Score, cfg *config.Config, w io.WriteSeeker) error {
	bank, err := newBank(cfg)
	if err != nil {
		return err
	}
	sampleRate := cfg.Audio.SampleRate
	channels := cfg.Audio.Channels
	events, err := s.events(float64(sampleRate))
	if err != nil {
		return err
	}
	totalFrames := int(math.Ceil(s.length() * float64(sampleRate)))

	enc := wav.NewEncoder(w, sampleRate, bitDepthInBytes*8, channels, 1)
	out := make([]float64, cfg.Audio.BlockSize*channels)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           make([]int, len(out)),
		SourceBitDepth: bitDepthInBytes * 8,
	}
	next := 0
	for start := 0; start < totalFrames; start += cfg.Audio.BlockSize {
		n := cfg.Audio.BlockSize
		if totalFrames-start < n {
			n = totalFrames - start
		}
		end := next
		for end < len(events) && events[end].offset < start+n {
			end++
		}
		renderEvents(bank, events[next:end], start, out[:n*channels], channels)
		next = end
		buf.Data = buf.Data[:n*channels]
		for i, value := range out[:n*channels] {
			buf.Data[i] = int(toInt16(value))
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to write wav: %w", err)
		}
	}
	if next < len(events) {
		logger.L.Warnf("%d events after the end of the score were skipped", len(events)-next)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish wav: %w", err)
	}
	logger.L.Infof("rendered %d frames", totalFrames)
	return nil
}
