package job

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/voicetrack/internal/synth"
)

const (
	// DefaultMaxConcurrentChunks bounds parallel synthesis calls.
	DefaultMaxConcurrentChunks = 3
	// DefaultSynthesisTimeout bounds a single synthesis call.
	DefaultSynthesisTimeout = 5 * time.Minute
	// DefaultAudioExt is the container produced for each unit.
	DefaultAudioExt = ".mp3"
)

// UnitFailure is the failure of one unit in a batch.
type UnitFailure struct {
	Index   int
	Message string
}

func (e UnitFailure) Error() string {
	return fmt.Sprintf("unit %d: %s", e.Index, e.Message)
}

// BatchError reports how many units of a batch failed.
type BatchError struct {
	Failed int
	Total  int
	Units  []UnitFailure
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d/%d chunks failed", e.Failed, e.Total)
}

// BatchResult holds every unit of a batch in its original position.
type BatchResult struct {
	Units  []Unit
	Failed int
	Total  int
}

// Err returns nil when every unit completed, else a *BatchError.
func (r BatchResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	be := &BatchError{Failed: r.Failed, Total: r.Total}
	for _, u := range r.Units {
		if u.Status == UnitError {
			be.Units = append(be.Units, UnitFailure{Index: u.Index, Message: u.Error})
		}
	}
	return be
}

// unitsError summarizes every unit of a job: Failed counts the units without
// audio and Total is the job's unit count. It returns nil when all completed.
func unitsError(units []Unit) error {
	be := &BatchError{Total: len(units)}
	for _, u := range units {
		if u.Completed() {
			continue
		}
		be.Failed++
		if u.Status == UnitError {
			be.Units = append(be.Units, UnitFailure{Index: u.Index, Message: u.Error})
		}
	}
	if be.Failed == 0 {
		return nil
	}
	return be
}

// Orchestrator synthesizes units with bounded parallelism.
type Orchestrator struct {
	synthesizer synth.Synthesizer
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
	ext         string
	metrics     *metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConcurrency sets the maximum number of units synthesized at once.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithSynthesisTimeout bounds each synthesis call.
func WithSynthesisTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithAudioExt sets the file extension, and so the format, of unit audio.
func WithAudioExt(ext string) OrchestratorOption {
	return func(o *Orchestrator) {
		if ext != "" {
			o.ext = ext
		}
	}
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(s synth.Synthesizer, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		synthesizer: s,
		logger:      logger,
		concurrency: DefaultMaxConcurrentChunks,
		timeout:     DefaultSynthesisTimeout,
		ext:         DefaultAudioExt,
		metrics:     newMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UnitPath returns where the audio for unit index is written inside dir.
func (o *Orchestrator) UnitPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("unit_%03d%s", index, o.ext))
}

type unitUpdate struct {
	pos  int
	unit Unit
}

// Run synthesizes every unit into dir. A failed unit never stops the
// others. report, when set, observes each status change (PROCESSING, then
// COMPLETED or ERROR); it is only ever called from the goroutine running
// Run. Units not yet started when ctx is cancelled are marked ERROR.
func (o *Orchestrator) Run(ctx context.Context, units []Unit, dir string, report func(Unit)) BatchResult {
	results := make([]Unit, len(units))
	copy(results, units)

	updates := make(chan unitUpdate)
	go func() {
		defer close(updates)

		g := new(errgroup.Group)
		g.SetLimit(o.concurrency)
		for pos, u := range units {
			if err := ctx.Err(); err != nil {
				u.Status = UnitError
				u.Error = fmt.Sprintf("cancelled: %v", err)
				updates <- unitUpdate{pos: pos, unit: u}
				continue
			}
			g.Go(func() error {
				o.synthesize(ctx, pos, u, dir, updates)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for upd := range updates {
		results[upd.pos] = upd.unit
		if report != nil {
			report(upd.unit)
		}
	}

	res := BatchResult{Units: results, Total: len(results)}
	for _, u := range results {
		if u.Status != UnitCompleted {
			res.Failed++
		}
	}
	return res
}

func (o *Orchestrator) synthesize(ctx context.Context, pos int, u Unit, dir string, updates chan<- unitUpdate) {
	u.Status = UnitProcessing
	u.Error = ""
	updates <- unitUpdate{pos: pos, unit: u}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	start := time.Now()
	res, err := o.synthesizer.Synthesize(callCtx, synth.Request{
		Text:       u.SourceText,
		Voice:      u.Voice,
		OutputPath: o.UnitPath(dir, u.Index),
	})
	if err != nil {
		o.logger.Warn("unit synthesis failed",
			slog.String("unit_id", u.ID),
			slog.Int("unit_index", u.Index),
			slog.String("error", err.Error()),
		)
		u.Status = UnitError
		u.Error = err.Error()
		u.FilePath = ""
		u.Duration = 0
		o.metrics.unitDone(ctx, UnitError, time.Since(start))
		updates <- unitUpdate{pos: pos, unit: u}
		return
	}

	o.logger.Debug("unit synthesized",
		slog.String("unit_id", u.ID),
		slog.Int("unit_index", u.Index),
		slog.Float64("duration", res.Duration),
	)
	u.Status = UnitCompleted
	u.FilePath = res.Path
	u.Duration = res.Duration
	o.metrics.unitDone(ctx, UnitCompleted, time.Since(start))
	updates <- unitUpdate{pos: pos, unit: u}
}
