package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/maauso/voicetrack/internal/media"
)

// Static errors for assembly.
var (
	// ErrNothingToAssemble is returned when no track is completed.
	ErrNothingToAssemble = errors.New("no audio to assemble")
	// ErrAssembly is returned when the voice track cannot be produced.
	ErrAssembly = errors.New("assembly failed")
)

const defaultExt = ".mp3"

// Track is one synthesized audio unit handed to the assembler.
type Track struct {
	Index     int
	Path      string
	Completed bool
}

// Request describes one assembly.
type Request struct {
	// Tracks are joined in Index order; tracks that are not completed are skipped.
	Tracks []Track
	// Mix layers intro/outro music over the voice track when set.
	Mix *MixSpec
	// OutDir receives voice and final files.
	OutDir string
	// PauseBetween inserts that many seconds of silence between tracks.
	PauseBetween float64
	// TargetDuration, when positive, fits the voice track to it before mixing.
	TargetDuration float64
}

// Result describes the produced track.
type Result struct {
	Path          string           `json:"path"`
	Duration      float64          `json:"duration"`
	VoiceDuration float64          `json:"voice_duration"`
	Tracks        int              `json:"tracks"`
	Mixed         bool             `json:"mixed"`
	Alignment     *AlignmentResult `json:"alignment,omitempty"`
	// MixErr is the mixing failure that caused a voice-only fallback.
	MixErr error `json:"-"`
}

// Assembler joins ordered tracks into one file and layers music over it.
type Assembler struct {
	engine  media.Engine
	aligner *Aligner
	logger  *slog.Logger
}

// NewAssembler creates a new Assembler.
func NewAssembler(engine media.Engine, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		engine:  engine,
		aligner: NewAligner(engine, logger),
		logger:  logger,
	}
}

// Assemble concatenates the completed tracks in index order without
// re-encoding, then mixes intro/outro music when configured. A mixing
// failure falls back to the voice-only track and is reported in
// Result.MixErr rather than as an error.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Result, error) {
	tracks := completedTracks(req.Tracks)
	if len(tracks) == 0 {
		return Result{}, ErrNothingToAssemble
	}

	if err := os.MkdirAll(req.OutDir, 0750); err != nil {
		return Result{}, fmt.Errorf("%w: create output dir: %w", ErrAssembly, err)
	}

	ext := filepath.Ext(tracks[0].Path)
	if ext == "" {
		ext = defaultExt
	}
	voicePath := filepath.Join(req.OutDir, "voice"+ext)
	finalPath := filepath.Join(req.OutDir, "final"+ext)

	inputs := a.withPauses(ctx, tracks, req.PauseBetween, filepath.Join(req.OutDir, "pause"+ext))
	if err := a.engine.Concat(ctx, inputs, voicePath); err != nil {
		return Result{}, fmt.Errorf("%w: concat %d tracks: %w", ErrAssembly, len(tracks), err)
	}

	result := Result{Tracks: len(tracks)}

	if req.TargetDuration > 0 {
		fitted := filepath.Join(req.OutDir, "voice_fit"+ext)
		alignment, err := a.aligner.Align(ctx, voicePath, fitted, req.TargetDuration)
		if err != nil {
			return Result{}, err
		}
		if err := os.Rename(fitted, voicePath); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAssembly, err)
		}
		alignment.OutputPath = voicePath
		result.Alignment = &alignment
	}

	voiceDuration, err := a.engine.ProbeDuration(ctx, voicePath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: voice track: %w", ErrProbe, err)
	}
	result.VoiceDuration = voiceDuration

	intro, outro := a.resolveAssets(ctx, req.Mix)
	switch {
	case intro == nil && outro == nil:
		if err := os.Rename(voicePath, finalPath); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrAssembly, err)
		}
	default:
		spec := *req.Mix
		spec.VoicePath = voicePath
		graph := BuildMixGraph(voicePath, voiceDuration, intro, outro, spec)
		if err := a.engine.Mix(ctx, graph, finalPath); err != nil {
			a.logger.Warn("mixing failed, using voice-only track",
				slog.String("output", finalPath),
				slog.String("error", err.Error()),
			)
			result.MixErr = err
			_ = os.Remove(finalPath)
			if err := os.Rename(voicePath, finalPath); err != nil {
				return Result{}, fmt.Errorf("%w: %w", ErrAssembly, err)
			}
		} else {
			result.Mixed = true
			_ = os.Remove(voicePath)
		}
	}

	result.Path = finalPath
	result.Duration, err = a.engine.ProbeDuration(ctx, finalPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: final track: %w", ErrProbe, err)
	}

	a.logger.Info("audio assembled",
		slog.String("path", finalPath),
		slog.Int("tracks", len(tracks)),
		slog.Bool("mixed", result.Mixed),
		slog.Float64("duration", result.Duration),
	)
	return result, nil
}

// withPauses interleaves a generated silence between tracks. If the silence
// cannot be generated the tracks are joined back to back.
func (a *Assembler) withPauses(ctx context.Context, tracks []Track, pause float64, pausePath string) []string {
	paths := make([]string, 0, 2*len(tracks))
	if pause <= 0 || len(tracks) < 2 {
		for _, t := range tracks {
			paths = append(paths, t.Path)
		}
		return paths
	}

	if err := a.engine.GenerateSilence(ctx, pause, pausePath); err != nil {
		a.logger.Warn("pause generation failed, joining without pauses",
			slog.Float64("pause", pause),
			slog.String("error", err.Error()),
		)
		return a.withPauses(ctx, tracks, 0, pausePath)
	}
	for i, t := range tracks {
		if i > 0 {
			paths = append(paths, pausePath)
		}
		paths = append(paths, t.Path)
	}
	return paths
}

// resolveAssets returns the intro and outro assets that exist on disk.
// The intro asset stands in for the outro when OutroUseIntro is set and no
// outro exists.
func (a *Assembler) resolveAssets(ctx context.Context, spec *MixSpec) (intro, outro *Asset) {
	if spec == nil {
		return nil, nil
	}
	if spec.Intro != nil && fileExists(spec.Intro.Path) {
		intro = &Asset{Path: spec.Intro.Path, Duration: spec.Intro.Duration}
		if intro.Duration <= 0 {
			d, err := a.engine.ProbeDuration(ctx, intro.Path)
			if err != nil {
				a.logger.Warn("intro duration unknown, using default pre-roll",
					slog.String("path", intro.Path),
					slog.String("error", err.Error()),
				)
			}
			intro.Duration = d
		}
	} else if spec.Intro != nil {
		a.logger.Warn("intro asset not found", slog.String("path", spec.Intro.Path))
	}

	if spec.OutroFade+spec.OutroExtend > 0 {
		switch {
		case spec.Outro != nil && fileExists(spec.Outro.Path):
			outro = &Asset{Path: spec.Outro.Path, Duration: spec.Outro.Duration}
		case spec.OutroUseIntro && intro != nil:
			outro = &Asset{Path: intro.Path, Duration: intro.Duration}
		case spec.Outro != nil:
			a.logger.Warn("outro asset not found", slog.String("path", spec.Outro.Path))
		}
	}
	return intro, outro
}

func completedTracks(tracks []Track) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Completed && t.Path != "" {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(x, y Track) int { return x.Index - y.Index })
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
