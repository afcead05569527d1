package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maauso/voicetrack/internal/synth"
)

// ErrUnknownVoice is returned when a voice name is not in the catalog.
var ErrUnknownVoice = errors.New("config: unknown voice")

// VoiceEntry is one named voice in the catalog file.
type VoiceEntry struct {
	Name        string `yaml:"name" json:"name"`
	Language    string `yaml:"language,omitempty" json:"language,omitempty"`
	synth.Voice `yaml:",inline"`
}

// VoiceCatalog is the set of voices offered to clients, loaded from VOICES_FILE.
//
//	default: vi-female
//	voices:
//	  - name: vi-female
//	    language: vi
//	    provider: edge
//	    voice_id: vi-VN-HoaiMyNeural
//	    gender: female
type VoiceCatalog struct {
	Default string       `yaml:"default,omitempty" json:"default,omitempty"`
	Voices  []VoiceEntry `yaml:"voices" json:"voices"`
}

// LoadVoices reads a voice catalog from disk. An empty path yields an empty catalog.
func LoadVoices(path string) (*VoiceCatalog, error) {
	if path == "" {
		return &VoiceCatalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voices file: %w", err)
	}
	var c VoiceCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse voices file: %w", err)
	}
	seen := make(map[string]bool, len(c.Voices))
	for i, v := range c.Voices {
		if v.Name == "" {
			return nil, fmt.Errorf("voices[%d]: name is required", i)
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("voices[%d]: duplicate name %q", i, v.Name)
		}
		seen[v.Name] = true
	}
	if c.Default != "" && !seen[c.Default] {
		return nil, fmt.Errorf("default voice %q: %w", c.Default, ErrUnknownVoice)
	}
	return &c, nil
}

// Resolve returns the voice registered under name. An empty name selects
// the catalog default.
func (c *VoiceCatalog) Resolve(name string) (synth.Voice, error) {
	if name == "" {
		name = c.Default
	}
	for _, v := range c.Voices {
		if strings.EqualFold(v.Name, name) {
			return v.Voice, nil
		}
	}
	return synth.Voice{}, fmt.Errorf("%q: %w", name, ErrUnknownVoice)
}

// DefaultVoice combines the catalog default with the DEFAULT_VOICE_*
// variables, which take precedence.
func (c *Config) DefaultVoice(catalog *VoiceCatalog) synth.Voice {
	var v synth.Voice
	if catalog != nil && catalog.Default != "" {
		if resolved, err := catalog.Resolve(""); err == nil {
			v = resolved
		}
	}
	if c.DefaultVoiceProvider != "" {
		v.Provider = c.DefaultVoiceProvider
	}
	if c.DefaultVoiceID != "" {
		v.VoiceID = c.DefaultVoiceID
	}
	if c.DefaultVoiceGender != "" {
		v.Gender = c.DefaultVoiceGender
	}
	return v
}
