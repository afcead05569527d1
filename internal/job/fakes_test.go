package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/media"
	"github.com/maauso/voicetrack/internal/notify"
	"github.com/maauso/voicetrack/internal/storage"
	"github.com/maauso/voicetrack/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSynth writes a small file per request. Texts listed in failTexts fail.
type fakeSynth struct {
	mu        sync.Mutex
	failTexts map[string]error
	calls     []string
	duration  float64
	delay     time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

var _ synth.Synthesizer = (*fakeSynth)(nil)

func newFakeSynth() *fakeSynth {
	return &fakeSynth{failTexts: map[string]error{}, duration: 2}
}

func (f *fakeSynth) failOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTexts[text] = err
}

func (f *fakeSynth) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTexts = map[string]error{}
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	failErr := f.failTexts[req.Text]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return synth.Result{}, ctx.Err()
		}
	}
	if failErr != nil {
		return synth.Result{}, failErr
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0750); err != nil {
		return synth.Result{}, err
	}
	if err := os.WriteFile(req.OutputPath, []byte(req.Text), 0600); err != nil {
		return synth.Result{}, err
	}
	return synth.Result{Path: req.OutputPath, Duration: f.duration}, nil
}

// fakeEngine stores each output's duration as the file's content so that
// renames by the assembler keep it. Files without one report fallback.
type fakeEngine struct {
	mu       sync.Mutex
	fallback float64
	mixErr   error
}

var _ media.Engine = (*fakeEngine)(nil)

func newFakeEngine(fallback float64) *fakeEngine {
	return &fakeEngine{fallback: fallback}
}

func (e *fakeEngine) duration(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if d, err := strconv.ParseFloat(string(data), 64); err == nil {
		return d, nil
	}
	return e.fallback, nil
}

func (e *fakeEngine) set(path string, d float64) error {
	return os.WriteFile(path, []byte(strconv.FormatFloat(d, 'g', -1, 64)), 0600)
}

func (e *fakeEngine) ProbeDuration(_ context.Context, path string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration(path)
}

func (e *fakeEngine) ApplyTempoChain(_ context.Context, input, output string, stages []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	product := 1.0
	for _, s := range stages {
		product *= s
	}
	d, err := e.duration(input)
	if err != nil {
		return err
	}
	return e.set(output, d/product)
}

func (e *fakeEngine) Concat(_ context.Context, inputs []string, output string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0.0
	for _, in := range inputs {
		d, err := e.duration(in)
		if err != nil {
			return err
		}
		total += d
	}
	return e.set(output, total)
}

func (e *fakeEngine) Mix(_ context.Context, graph media.MixGraph, output string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mixErr != nil {
		return e.mixErr
	}
	d, err := e.duration(graph.Inputs[0])
	if err != nil {
		return err
	}
	return e.set(output, d+5)
}

func (e *fakeEngine) GenerateSilence(_ context.Context, seconds float64, output string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set(output, seconds)
}

// recordingNotifier keeps every event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if len(out) == 0 || out[len(out)-1] != e.Status {
			out = append(out, e.Status)
		}
	}
	return out
}

// publishingStore is a LocalStorage that accepts uploads.
type publishingStore struct {
	*storage.LocalStorage
	keys []string
	err  error
}

func (p *publishingStore) Publish(_ context.Context, key string, data io.Reader) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	p.keys = append(p.keys, key)
	return "https://cdn.example.com/" + key, nil
}

var errVoiceUnavailable = errors.New("voice unavailable")

type serviceFixture struct {
	svc      *PipelineService
	repo     *MemoryRepository
	store    *publishingStore
	synth    *fakeSynth
	engine   *fakeEngine
	notifier *recordingNotifier
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	f := &serviceFixture{
		repo:     NewMemoryRepository(),
		store:    &publishingStore{LocalStorage: local},
		synth:    newFakeSynth(),
		engine:   newFakeEngine(2),
		notifier: &recordingNotifier{},
	}
	logger := discardLogger()
	orch := NewOrchestrator(f.synth, logger, WithConcurrency(2))
	opts = append([]ServiceOption{WithNotifier(f.notifier)}, opts...)
	f.svc = NewPipelineService(
		f.repo,
		f.store,
		orch,
		audio.NewAssembler(f.engine, logger),
		audio.NewAligner(f.engine, logger),
		logger,
		opts...,
	)
	return f
}
