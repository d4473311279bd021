package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of desktop-synth.
type Config struct {
	Audio AudioConfig `yaml:"audio"`
	Synth SynthConfig `yaml:"synth"`
	MIDI  MIDIConfig  `yaml:"midi"`
	IPC   IPCConfig   `yaml:"ipc"`
	Log   LogConfig   `yaml:"log"`
}

// AudioConfig selects the output device and stream format.
type AudioConfig struct {
	// Backend is one of "oto", "malgo" or "none".
	Backend    string `yaml:"backend"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	// BlockSize is the number of frames rendered per callback.
	BlockSize int `yaml:"block_size"`
}

// SynthConfig ...
type SynthConfig struct {
	Polyphony  int     `yaml:"polyphony"`
	Attack     float64 `yaml:"attack"`
	Decay      float64 `yaml:"decay"`
	MasterGain float64 `yaml:"master_gain"`
	Waveform   string  `yaml:"waveform"`
}

// MIDIConfig ...
type MIDIConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port is matched as a substring of the input port name. Empty means the first port.
	Port string `yaml:"port"`
	// WaveformKeys maps note numbers to the waveform they select instead of sounding.
	WaveformKeys map[int]string `yaml:"waveform_keys"`
}

// IPCConfig ...
type IPCConfig struct {
	Socket string `yaml:"socket"`
}

// LogConfig ...
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

var backends = map[string]struct{}{
	"oto":   {},
	"malgo": {},
	"none":  {},
}

var waveforms = map[string]struct{}{
	"sine":     {},
	"square":   {},
	"sawtooth": {},
	"saw":      {},
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{MIDI: MIDIConfig{Enabled: true}}
	setDefaults(cfg)
	return cfg
}

// Load reads a YAML file and returns a validated Config.
// ${VAR_NAME} references are expanded from the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{MIDI: MIDIConfig{Enabled: true}}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	setDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "oto"
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 2
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = 1024
	}
	if cfg.Synth.Polyphony == 0 {
		cfg.Synth.Polyphony = 5
	}
	if cfg.Synth.Attack == 0 {
		cfg.Synth.Attack = 1.05
	}
	if cfg.Synth.Decay == 0 {
		cfg.Synth.Decay = 0.95
	}
	if cfg.Synth.MasterGain == 0 {
		cfg.Synth.MasterGain = 0.2
	}
	if cfg.Synth.Waveform == "" {
		cfg.Synth.Waveform = "sine"
	}
	if cfg.MIDI.WaveformKeys == nil {
		cfg.MIDI.WaveformKeys = map[int]string{48: "sine", 50: "square", 52: "sawtooth"}
	}
	if cfg.IPC.Socket == "" {
		cfg.IPC.Socket = "/tmp/desktop-synth.sock"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Audio.Backend = strings.ToLower(cfg.Audio.Backend)
}

// Validate ...
func (c *Config) Validate() error {
	if _, ok := backends[c.Audio.Backend]; !ok {
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		return fmt.Errorf("channels must be 1-8, got %d", c.Audio.Channels)
	}
	if c.Audio.BlockSize < 1 {
		return fmt.Errorf("block_size must be positive, got %d", c.Audio.BlockSize)
	}
	if c.Synth.Polyphony < 1 {
		return fmt.Errorf("polyphony must be positive, got %d", c.Synth.Polyphony)
	}
	if c.Synth.Attack <= 1 {
		return fmt.Errorf("attack must be greater than 1, got %v", c.Synth.Attack)
	}
	if c.Synth.Decay <= 0 || c.Synth.Decay >= 1 {
		return fmt.Errorf("decay must be in (0, 1), got %v", c.Synth.Decay)
	}
	if _, ok := waveforms[c.Synth.Waveform]; !ok {
		return fmt.Errorf("unknown waveform %q", c.Synth.Waveform)
	}
	for note, w := range c.MIDI.WaveformKeys {
		if note < 0 || note > 127 {
			return fmt.Errorf("waveform key %d out of range", note)
		}
		if _, ok := waveforms[w]; !ok {
			return fmt.Errorf("waveform key %d: unknown waveform %q", note, w)
		}
	}
	return nil
}
