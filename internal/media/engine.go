// Package media wraps the external audio engine (ffmpeg and ffprobe) used to
// probe, time-stretch, concatenate and mix audio files.
package media

import "context"

// MixGraph describes a filter_complex mix: the ordered inputs, the filter
// graph that references them as [0:a], [1:a], ... and the output label.
type MixGraph struct {
	Inputs []string
	Filter string
	Output string
}

// Engine is the audio-processing capability the pipeline depends on.
// Every call blocks until the subprocess exits or its timeout expires.
type Engine interface {
	// ProbeDuration returns the duration of the file in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// ApplyTempoChain time-stretches input into output with the ordered
	// atempo stages. Each stage must lie in [0.5, 2.0].
	ApplyTempoChain(ctx context.Context, input, output string, stages []float64) error

	// Concat joins the inputs in order without re-encoding, falling back to
	// a re-encode when the streams cannot be copied.
	Concat(ctx context.Context, inputs []string, output string) error

	// Mix renders graph into output.
	Mix(ctx context.Context, graph MixGraph, output string) error

	// GenerateSilence writes seconds of stereo silence to output.
	GenerateSilence(ctx context.Context, seconds float64, output string) error
}
