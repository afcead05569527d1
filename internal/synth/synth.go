// Package synth provides text-to-speech adapters. The pipeline only depends
// on the Synthesizer interface; HTTPSynthesizer talks to a remote TTS
// service and ExecSynthesizer runs a local TTS command.
package synth

import (
	"context"
	"errors"
)

// Static errors shared by synthesizers.
var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("synth: text is empty")
	// ErrOutputPathRequired is returned when no output path is given.
	ErrOutputPathRequired = errors.New("synth: output path is required")
	// ErrNoAudio is returned when the engine produced no audio.
	ErrNoAudio = errors.New("synth: no audio produced")
	// ErrNoDuration is returned when the duration is unknown and no prober is set.
	ErrNoDuration = errors.New("synth: duration unknown")
)

// Voice selects and shapes the synthesized voice.
type Voice struct {
	Provider string  `json:"provider,omitempty" yaml:"provider"`
	VoiceID  string  `json:"voice_id,omitempty" yaml:"voice_id"`
	Gender   string  `json:"gender,omitempty" yaml:"gender" validate:"omitempty,oneof=male female neutral"`
	Style    string  `json:"style,omitempty" yaml:"style"`
	Speed    float64 `json:"speed,omitempty" yaml:"speed" validate:"omitempty,gte=0.25,lte=4"`
}

// Request is a single synthesis call.
type Request struct {
	Text  string
	Voice Voice
	// OutputPath is where the audio file must be written. Its extension
	// selects the audio format.
	OutputPath string
}

// Result is the produced audio file.
type Result struct {
	Path     string
	Duration float64
}

// Synthesizer turns text into an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// DurationProber measures audio files. media.Engine satisfies it.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

func (r Request) validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	if r.OutputPath == "" {
		return ErrOutputPathRequired
	}
	return nil
}
