package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTone writes a sine tone of the given duration.
func createTone(t *testing.T, path string, seconds float64, freq int) {
	t.Helper()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=%d:sample_rate=44100:duration=%.2f", freq, seconds),
		"-ac", "2",
		"-c:a", "pcm_s16le",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test tone: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegEngine(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := NewFFmpegEngine("")
		assert.Equal(t, "ffmpeg", e.ffmpegPath)
		assert.Equal(t, "ffprobe", e.ffprobePath)
		assert.Equal(t, DefaultTimeout, e.timeout)
	})

	t.Run("options", func(t *testing.T) {
		e := NewFFmpegEngine("/opt/ffmpeg", WithFFprobePath("/opt/ffprobe"), WithTimeout(5e9))
		assert.Equal(t, "/opt/ffmpeg", e.ffmpegPath)
		assert.Equal(t, "/opt/ffprobe", e.ffprobePath)
		assert.Equal(t, "5s", e.timeout.String())
	})
}

func TestTempoFilter(t *testing.T) {
	tests := []struct {
		name    string
		stages  []float64
		want    string
		wantErr bool
	}{
		{"single", []float64{1.3}, "atempo=1.3000", false},
		{"chain", []float64{2.0, 2.0, 1.05}, "atempo=2.0000,atempo=2.0000,atempo=1.0500", false},
		{"slow down", []float64{0.5, 0.5, 0.8}, "atempo=0.5000,atempo=0.5000,atempo=0.8000", false},
		{"empty", nil, "", true},
		{"too fast", []float64{2.5}, "", true},
		{"too slow", []float64{0.4}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TempoFilter(tt.stages)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodecArgs(t *testing.T) {
	assert.Equal(t, []string{"-c:a", "libmp3lame", "-b:a", "192k"}, codecArgs("/x/final.MP3"))
	assert.Equal(t, []string{"-c:a", "pcm_s16le"}, codecArgs("a.wav"))
	assert.Nil(t, codecArgs("a.flac"))
}

func TestCreateConcatList(t *testing.T) {
	dir := t.TempDir()
	list, err := createConcatList(dir, []string{"/tmp/a.mp3", "/tmp/it's.mp3"})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(list))

	content, err := os.ReadFile(list)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/a.mp3'\nfile '/tmp/it'\\''s.mp3'\n", string(content))
}

func TestFFmpegEngine_CancelledContextDoesNotStart(t *testing.T) {
	e := NewFFmpegEngine("/nonexistent/ffmpeg")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.GenerateSilence(ctx, 1, filepath.Join(t.TempDir(), "s.wav"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpegEngine_ProbeDuration(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	createTone(t, tone, 2.0, 440)

	e := NewFFmpegEngine("")
	d, err := e.ProbeDuration(context.Background(), tone)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 0.05)

	corrupt := filepath.Join(dir, "corrupt.mp3")
	require.NoError(t, os.WriteFile(corrupt, []byte("not audio"), 0600))
	_, err = e.ProbeDuration(context.Background(), corrupt)
	assert.ErrorIs(t, err, ErrFFprobeExecution)
}

func TestFFmpegEngine_ApplyTempoChain(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	createTone(t, in, 4.0, 440)

	e := NewFFmpegEngine("")
	require.NoError(t, e.ApplyTempoChain(context.Background(), in, out, []float64{2.0}))

	d, err := e.ProbeDuration(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 0.1)
}

func TestFFmpegEngine_ConcatAndSilence(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.wav")
	b := filepath.Join(dir, "b.wav")
	gap := filepath.Join(dir, "gap.wav")
	out := filepath.Join(dir, "voice.wav")
	createTone(t, a, 1.0, 440)
	createTone(t, b, 1.5, 660)

	e := NewFFmpegEngine("")
	ctx := context.Background()
	require.NoError(t, e.GenerateSilence(ctx, 0.5, gap))
	require.NoError(t, e.Concat(ctx, []string{a, gap, b}, out))

	d, err := e.ProbeDuration(ctx, out)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 0.1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), "concat-"), "concat list should be removed")
	}
}

func TestFFmpegEngine_Concat_NoInputs(t *testing.T) {
	err := NewFFmpegEngine("").Concat(context.Background(), nil, "out.wav")
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestFFmpegEngine_Mix(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	voice := filepath.Join(dir, "voice.wav")
	intro := filepath.Join(dir, "intro.wav")
	out := filepath.Join(dir, "final.wav")
	createTone(t, voice, 2.0, 440)
	createTone(t, intro, 3.0, 220)

	graph := MixGraph{
		Inputs: []string{voice, intro},
		Filter: "[1:a]atrim=0:2,afade=t=out:st=1:d=1[intro];" +
			"[0:a]adelay=1000|1000[voicedelayed];" +
			"[intro][voicedelayed]amix=inputs=2:duration=longest:normalize=0[final]",
		Output: "final",
	}

	e := NewFFmpegEngine("")
	require.NoError(t, e.Mix(context.Background(), graph, out))

	d, err := e.ProbeDuration(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 0.1)
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Tool:   "ffmpeg",
		Args:   []string{"-i", "input.mp3", "-c", "copy", "output.mp3"},
		Stderr: "ffmpeg version 6\n  configuration: ...\n\ninput.mp3: Invalid data found when processing input\n",
		Err:    errors.New("exit status 1"),
	}

	msg := err.Error()
	assert.Contains(t, msg, "exit status 1")
	assert.Contains(t, msg, "Invalid data found when processing input")
	assert.Equal(t, "exit status 1", errors.Unwrap(err).Error())

	var target *FFmpegError
	wrapped := fmt.Errorf("concat: %w", err)
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "ffmpeg version 6 | configuration: ... | input.mp3: Invalid data found when processing input", target.Diagnostic())
}
