package audio

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jinjor/desktop-synth/src/synth"
)

const defaultVelocity = 100

// ParseCommand splits a line into URL-escaped tokens.
func ParseCommand(line string) ([]string, error) {
	tokens := strings.Fields(line)
	for i, item := range tokens {
		escaped, err := url.QueryUnescape(item)
		if err != nil {
			return nil, err
		}
		tokens[i] = escaped
	}
	return tokens, nil
}

func parseArg(command []string, index int, name string) (float64, error) {
	if len(command) <= index {
		return 0, fmt.Errorf("%s: missing %s", command[0], name)
	}
	value, err := strconv.ParseFloat(command[index], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid %s: %w", command[0], name, err)
	}
	return value, nil
}

func (a *Audio) update(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}
	switch command[0] {
	case "note_on":
		freq, err := parseArg(command, 1, "frequency")
		if err != nil {
			return err
		}
		velocity := float64(defaultVelocity)
		if len(command) > 2 {
			if velocity, err = parseArg(command, 2, "velocity"); err != nil {
				return err
			}
		}
		if freq <= 0 {
			return fmt.Errorf("note_on: frequency must be positive, got %v", freq)
		}
		a.NoteOn(freq, velocity)
	case "note_off":
		freq, err := parseArg(command, 1, "frequency")
		if err != nil {
			return err
		}
		a.NoteOff(freq)
	case "wave":
		if len(command) < 2 {
			return fmt.Errorf("wave: missing waveform")
		}
		w, err := synth.ParseWaveform(command[1])
		if err != nil {
			return fmt.Errorf("wave: %w", err)
		}
		a.SetWaveform(w)
	case "gain":
		g, err := parseArg(command, 1, "gain")
		if err != nil {
			return err
		}
		a.SetMasterGain(g)
	case "all_off":
		a.AllNotesOff()
	default:
		return fmt.Errorf("unknown command %v", command[0])
	}
	return nil
}
