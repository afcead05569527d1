package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/maauso/voicetrack/internal/media"
)

// Static errors for alignment.
var (
	// ErrProbe is returned when a duration cannot be measured.
	ErrProbe = errors.New("probe duration failed")
	// ErrTransform is returned when the tempo transform fails.
	ErrTransform = errors.New("tempo transform failed")
	// ErrInvalidTarget is returned for a non-positive target duration.
	ErrInvalidTarget = errors.New("invalid target duration: must be positive")
)

// DefaultTolerance is the relative duration mismatch below which a unit is
// left untouched by per-unit alignment.
const DefaultTolerance = 0.10

// AlignmentResult describes one tempo alignment.
type AlignmentResult struct {
	OriginalDuration float64   `json:"original_duration"`
	TargetDuration   float64   `json:"target_duration"`
	TempoRatio       float64   `json:"tempo_ratio"`
	Stages           []float64 `json:"stages"`
	OutputPath       string    `json:"output_path"`
	// OutputDuration is the re-probed duration of OutputPath. It may differ
	// slightly from TargetDuration because of filter rounding.
	OutputDuration float64 `json:"output_duration"`
}

// Aligner stretches audio files to a target duration.
type Aligner struct {
	engine media.Engine
	logger *slog.Logger
}

// NewAligner creates a new Aligner.
func NewAligner(engine media.Engine, logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{engine: engine, logger: logger}
}

// WithinTolerance reports whether duration is close enough to target that no
// alignment is needed.
func WithinTolerance(duration, target, tolerance float64) bool {
	if duration <= 0 || target <= 0 {
		return false
	}
	return math.Abs(duration/target-1) <= tolerance
}

// Align measures input, time-stretches it into output so that it lasts
// target seconds, and re-probes the result. Any failure removes output.
func (a *Aligner) Align(ctx context.Context, input, output string, target float64) (AlignmentResult, error) {
	if target <= 0 || math.IsNaN(target) || math.IsInf(target, 0) {
		return AlignmentResult{}, fmt.Errorf("%w: %v", ErrInvalidTarget, target)
	}
	if filepath.Clean(input) == filepath.Clean(output) {
		return AlignmentResult{}, fmt.Errorf("%w: output must differ from input", ErrTransform)
	}

	original, err := a.engine.ProbeDuration(ctx, input)
	if err != nil {
		return AlignmentResult{}, fmt.Errorf("%w: %s: %w", ErrProbe, input, err)
	}

	ratio := original / target
	stages, err := TempoChain(ratio)
	if err != nil {
		return AlignmentResult{}, fmt.Errorf("%w: %w", ErrTransform, err)
	}

	result := AlignmentResult{
		OriginalDuration: original,
		TargetDuration:   target,
		TempoRatio:       ratio,
		Stages:           stages,
		OutputPath:       output,
	}

	a.logger.Info("aligning audio",
		slog.String("input", input),
		slog.Float64("original_duration", original),
		slog.Float64("target_duration", target),
		slog.Float64("tempo_ratio", ratio),
		slog.Int("stages", len(stages)),
	)

	if err := os.MkdirAll(filepath.Dir(output), 0750); err != nil {
		return AlignmentResult{}, fmt.Errorf("%w: create output dir: %w", ErrTransform, err)
	}
	if err := a.engine.ApplyTempoChain(ctx, input, output, stages); err != nil {
		_ = os.Remove(output)
		return AlignmentResult{}, fmt.Errorf("%w: %w", ErrTransform, err)
	}

	result.OutputDuration, err = a.engine.ProbeDuration(ctx, output)
	if err != nil {
		_ = os.Remove(output)
		return AlignmentResult{}, fmt.Errorf("%w: %s: %w", ErrProbe, output, err)
	}

	a.logger.Debug("audio aligned",
		slog.String("output", output),
		slog.Float64("output_duration", result.OutputDuration),
	)
	return result, nil
}
