package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Static errors for engine operations.
var (
	// ErrNoInputs is returned when Concat or Mix receive no input files.
	ErrNoInputs = errors.New("no input files provided")
	// ErrInvalidDuration is returned when a duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrInvalidStage is returned when a tempo stage is outside [0.5, 2.0].
	ErrInvalidStage = errors.New("invalid tempo stage: must be within [0.5, 2.0]")
	// ErrFFprobeExecution is returned when ffprobe fails or prints no duration.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrMissingOutput is returned when the tool exits cleanly but wrote nothing.
	ErrMissingOutput = errors.New("output file missing or empty")
	// ErrTimeout is returned when a subprocess exceeds the engine timeout.
	ErrTimeout = errors.New("engine timeout")
)

// DefaultTimeout bounds a single ffmpeg or ffprobe invocation.
const DefaultTimeout = 60 * time.Second

// Compile-time check that FFmpegEngine implements Engine.
var _ Engine = (*FFmpegEngine)(nil)

// FFmpegEngine implements Engine using the ffmpeg and ffprobe CLIs.
type FFmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	logger      *slog.Logger
}

// EngineOption configures an FFmpegEngine.
type EngineOption func(*FFmpegEngine)

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe".
func WithFFprobePath(path string) EngineOption {
	return func(e *FFmpegEngine) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *FFmpegEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *FFmpegEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewFFmpegEngine creates a new FFmpegEngine.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEngine(ffmpegPath string, opts ...EngineOption) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegEngine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: "ffprobe",
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProbeDuration returns the container duration of path in seconds.
func (e *FFmpegEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := NewCommand(e.ffprobePath).
		Flag("-v", "error").
		Flag("-show_entries", "format=duration").
		Flag("-of", "default=noprint_wrappers=1:nokey=1").
		Output(path)

	out, err := e.run(ctx, cmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFFprobeExecution, err)
	}

	raw := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %w", ErrFFprobeExecution, raw, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: got %.3f for %s", ErrInvalidDuration, duration, path)
	}
	return duration, nil
}

// ApplyTempoChain runs every stage in a single ffmpeg pass.
func (e *FFmpegEngine) ApplyTempoChain(ctx context.Context, input, output string, stages []float64) error {
	filter, err := TempoFilter(stages)
	if err != nil {
		return err
	}

	cmd := NewCommand(e.ffmpegPath).
		Flag("-y").
		Input(input).
		Flag("-vn").
		Flag("-filter:a", filter)
	cmd.Append(codecArgs(output)...).Output(output)

	if _, err := e.run(ctx, cmd); err != nil {
		return err
	}
	return checkOutput(output)
}

// TempoFilter renders stages as an ffmpeg atempo chain, e.g.
// "atempo=2.0000,atempo=1.0500".
func TempoFilter(stages []float64) (string, error) {
	if len(stages) == 0 {
		return "", fmt.Errorf("%w: empty chain", ErrInvalidStage)
	}
	parts := make([]string, len(stages))
	for i, s := range stages {
		if s < 0.5 || s > 2.0 {
			return "", fmt.Errorf("%w: stage %d is %.4f", ErrInvalidStage, i, s)
		}
		parts[i] = fmt.Sprintf("atempo=%.4f", s)
	}
	return strings.Join(parts, ","), nil
}

// Concat joins inputs in order. It first attempts a stream copy and falls
// back to re-encoding if the copy fails.
func (e *FFmpegEngine) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return ErrNoInputs
	}
	if len(inputs) == 1 {
		return copyFile(inputs[0], output)
	}

	listFile, err := createConcatList(filepath.Dir(output), inputs)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	copyErr := e.concatWith(ctx, listFile, output, "-c", "copy")
	if copyErr == nil {
		return checkOutput(output)
	}
	if errors.Is(copyErr, context.Canceled) {
		return copyErr
	}

	e.logger.Warn("stream copy concat failed, re-encoding",
		slog.String("output", output),
		slog.String("error", copyErr.Error()),
	)
	if err := e.concatWith(ctx, listFile, output, codecArgs(output)...); err != nil {
		return err
	}
	return checkOutput(output)
}

func (e *FFmpegEngine) concatWith(ctx context.Context, listFile, output string, codec ...string) error {
	cmd := NewCommand(e.ffmpegPath).
		Flag("-y").
		Flag("-f", "concat").
		Flag("-safe", "0").
		Input(listFile).
		Flag("-vn").
		Append(codec...).
		Output(output)
	_, err := e.run(ctx, cmd)
	return err
}

// Mix renders the filter graph, mapping graph.Output to the output file.
func (e *FFmpegEngine) Mix(ctx context.Context, graph MixGraph, output string) error {
	if len(graph.Inputs) == 0 {
		return ErrNoInputs
	}

	cmd := NewCommand(e.ffmpegPath).Flag("-y")
	for _, in := range graph.Inputs {
		cmd.Input(in)
	}
	cmd.Flag("-filter_complex", graph.Filter).
		Flag("-map", "["+graph.Output+"]")
	cmd.Append(codecArgs(output)...).Output(output)

	if _, err := e.run(ctx, cmd); err != nil {
		return err
	}
	return checkOutput(output)
}

// GenerateSilence writes seconds of 44.1kHz stereo silence.
func (e *FFmpegEngine) GenerateSilence(ctx context.Context, seconds float64, output string) error {
	if seconds <= 0 {
		return fmt.Errorf("%w: got %.3f", ErrInvalidDuration, seconds)
	}

	cmd := NewCommand(e.ffmpegPath).
		Flag("-y").
		Flag("-f", "lavfi").
		Input("anullsrc=r=44100:cl=stereo").
		Flag("-t", strconv.FormatFloat(seconds, 'f', 3, 64))
	cmd.Append(codecArgs(output)...).Output(output)

	if _, err := e.run(ctx, cmd); err != nil {
		return err
	}
	return checkOutput(output)
}

// run executes cmd and returns its stdout. The subprocess is detached from
// caller cancellation and bounded by the engine timeout instead; a caller
// that is already cancelled does not start a new subprocess.
func (e *FFmpegEngine) run(ctx context.Context, c *Command) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s not started: %w", c.Name(), err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	args := c.Args()
	// #nosec G204 - binary paths come from configuration, args are an explicit list
	cmd := exec.CommandContext(runCtx, c.Name(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logger.Debug("engine command finished",
		slog.String("command", c.String()),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, e.timeout, err)
		}
		return nil, &FFmpegError{
			Tool:   filepath.Base(c.Name()),
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// createConcatList writes the concat demuxer list next to the output so
// that it stays inside the job directory.
func createConcatList(dir string, paths []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create list file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escaped := strings.ReplaceAll(absPath, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// codecArgs picks an encoder from the output extension. Unknown extensions
// leave the choice to ffmpeg.
func codecArgs(output string) []string {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", "192k"}
	case ".wav":
		return []string{"-c:a", "pcm_s16le"}
	case ".m4a", ".aac":
		return []string{"-c:a", "aac", "-b:a", "192k"}
	case ".ogg", ".opus":
		return []string{"-c:a", "libopus", "-b:a", "128k"}
	default:
		return nil
	}
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrMissingOutput, path)
	}
	return nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is a job-scoped path
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

// FFmpegError is a failed ffmpeg or ffprobe invocation, including stderr.
type FFmpegError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	if d := e.Diagnostic(); d != "" {
		return fmt.Sprintf("%s error: %v: %s", e.Tool, e.Err, d)
	}
	return fmt.Sprintf("%s error: %v", e.Tool, e.Err)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Diagnostic returns the last non-empty stderr lines, which is where ffmpeg
// reports the actual failure.
func (e *FFmpegError) Diagnostic() string {
	const maxLines = 5
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < maxLines; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			kept = append([]string{l}, kept...)
		}
	}
	return strings.Join(kept, " | ")
}
