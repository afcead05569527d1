package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrCommandRequired is returned when the TTS command template is empty.
var ErrCommandRequired = errors.New("synth: command is required")

// Placeholders substituted in an ExecSynthesizer command template.
const (
	PlaceholderText     = "{text}"
	PlaceholderTextFile = "{text_file}"
	PlaceholderOutput   = "{output}"
	PlaceholderVoice    = "{voice}"
	PlaceholderStyle    = "{style}"
	PlaceholderSpeed    = "{speed}"
)

// Compile-time check that ExecSynthesizer implements Synthesizer.
var _ Synthesizer = (*ExecSynthesizer)(nil)

// ExecSynthesizer runs a local TTS command such as
//
//	edge-tts --voice {voice} --file {text_file} --write-media {output}
//
// The template is split into arguments once; placeholders are substituted
// per argument so text never passes through a shell. Without a {text} or
// {text_file} placeholder the text is written to stdin.
type ExecSynthesizer struct {
	args   []string
	prober DurationProber
}

// NewExecSynthesizer parses the command template.
func NewExecSynthesizer(command string, prober DurationProber) (*ExecSynthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("synth: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrCommandRequired
	}
	return &ExecSynthesizer{args: args, prober: prober}, nil
}

// Synthesize runs the command and measures the produced file.
func (s *ExecSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0750); err != nil {
		return Result{}, fmt.Errorf("synth: create output dir: %w", err)
	}

	textFile := ""
	if s.uses(PlaceholderTextFile) {
		textFile = strings.TrimSuffix(req.OutputPath, filepath.Ext(req.OutputPath)) + ".txt"
		if err := os.WriteFile(textFile, []byte(req.Text), 0600); err != nil {
			return Result{}, fmt.Errorf("synth: write text file: %w", err)
		}
		defer func() { _ = os.Remove(textFile) }()
	}

	replacer := strings.NewReplacer(
		PlaceholderTextFile, textFile,
		PlaceholderText, req.Text,
		PlaceholderOutput, req.OutputPath,
		PlaceholderVoice, req.Voice.VoiceID,
		PlaceholderStyle, req.Voice.Style,
		PlaceholderSpeed, formatSpeed(req.Voice.Speed),
	)
	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = replacer.Replace(a)
	}

	// #nosec G204 - the command template comes from configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if !s.uses(PlaceholderText) && !s.uses(PlaceholderTextFile) {
		cmd.Stdin = strings.NewReader(req.Text)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("synth: %s cancelled: %w", args[0], ctx.Err())
		}
		return Result{}, fmt.Errorf("synth: %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoAudio, req.OutputPath)
	}

	if s.prober == nil {
		return Result{}, ErrNoDuration
	}
	duration, err := s.prober.ProbeDuration(ctx, req.OutputPath)
	if err != nil {
		return Result{}, fmt.Errorf("synth: probe duration: %w", err)
	}
	return Result{Path: req.OutputPath, Duration: duration}, nil
}

func (s *ExecSynthesizer) uses(placeholder string) bool {
	for _, a := range s.args {
		if strings.Contains(a, placeholder) {
			return true
		}
	}
	return false
}

func formatSpeed(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	return strconv.FormatFloat(speed, 'f', -1, 64)
}
