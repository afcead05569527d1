package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/notify"
	"github.com/maauso/voicetrack/internal/segment"
	"github.com/maauso/voicetrack/internal/storage"
	"github.com/maauso/voicetrack/internal/synth"
)

// ErrJobBusy is returned when a stage is already running for the job.
var ErrJobBusy = errors.New("job is busy")

// CreateInput contains the parameters of a new job.
type CreateInput struct {
	Kind Kind
	// Text is the transcript or manuscript.
	Text string
	// Translated is the text to narrate. Chapter and project jobs narrate
	// Text when it is empty.
	Translated string
	// Segments bind narrated text to timed slots; they override Translated.
	Segments       []TimedSegment
	Voice          *synth.Voice
	SpokenIntro    string
	SpokenOutro    string
	TargetDuration float64
	Mix            *audio.MixSpec
	PauseBetween   *float64
	PushToS3       bool
}

// PipelineService drives jobs through synthesis, alignment and assembly.
type PipelineService struct {
	repo         Repository
	store        storage.Storage
	orchestrator *Orchestrator
	aligner      *audio.Aligner
	assembler    *audio.Assembler
	notifier     notify.Notifier
	logger       *slog.Logger
	metrics      *metrics

	segmentOpts    segment.Options
	alignTolerance float64
	autoAssemble   bool
	pauseBetween   float64
	defaultVoice   synth.Voice
	defaultMix     *audio.MixSpec

	mu   sync.Mutex
	busy map[string]struct{}
	wg   sync.WaitGroup
}

// ServiceOption configures a PipelineService.
type ServiceOption func(*PipelineService)

// WithSegmentOptions sets how narrated text is split into units.
func WithSegmentOptions(opts segment.Options) ServiceOption {
	return func(s *PipelineService) {
		s.segmentOpts = opts
	}
}

// WithAlignTolerance sets the relative duration error left uncorrected.
func WithAlignTolerance(tol float64) ServiceOption {
	return func(s *PipelineService) {
		if tol >= 0 {
			s.alignTolerance = tol
		}
	}
}

// WithAutoAssemble chains assembly after successful synthesis.
func WithAutoAssemble(enabled bool) ServiceOption {
	return func(s *PipelineService) {
		s.autoAssemble = enabled
	}
}

// WithPauseBetween sets the default silence between units in seconds.
func WithPauseBetween(seconds float64) ServiceOption {
	return func(s *PipelineService) {
		if seconds >= 0 {
			s.pauseBetween = seconds
		}
	}
}

// WithDefaultVoice sets the voice used when a job names none.
func WithDefaultVoice(v synth.Voice) ServiceOption {
	return func(s *PipelineService) {
		s.defaultVoice = v
	}
}

// WithDefaultMix sets the fades applied when a job brings music without them.
func WithDefaultMix(m audio.MixSpec) ServiceOption {
	return func(s *PipelineService) {
		s.defaultMix = &m
	}
}

// WithNotifier sets where job status changes are published.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *PipelineService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(
	repo Repository,
	store storage.Storage,
	orchestrator *Orchestrator,
	assembler *audio.Assembler,
	aligner *audio.Aligner,
	logger *slog.Logger,
	opts ...ServiceOption,
) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PipelineService{
		repo:           repo,
		store:          store,
		orchestrator:   orchestrator,
		aligner:        aligner,
		assembler:      assembler,
		notifier:       notify.Nop{},
		logger:         logger,
		metrics:        newMetrics(),
		segmentOpts:    segment.DefaultOptions(),
		alignTolerance: audio.DefaultTolerance,
		autoAssemble:   true,
		busy:           make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a new job, records the texts it was given and persists it.
func (s *PipelineService) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	kind := input.Kind
	if kind == "" {
		kind = KindChapter
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	job := New(kind)
	job.Voice = s.defaultVoice
	if input.Voice != nil {
		job.Voice = MergeVoice(s.defaultVoice, *input.Voice)
	}
	job.SpokenIntro = input.SpokenIntro
	job.SpokenOutro = input.SpokenOutro
	job.TargetDuration = input.TargetDuration
	job.PushToS3 = input.PushToS3
	job.PauseBetween = s.pauseBetween
	if input.PauseBetween != nil {
		job.PauseBetween = *input.PauseBetween
	}
	if input.Mix != nil {
		mix := s.completeMix(*input.Mix)
		if err := mix.Validate(); err != nil {
			return nil, err
		}
		job.Mix = &mix
	}

	if err := s.recordTexts(job, input); err != nil {
		return nil, err
	}

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("status", string(job.Status)),
		slog.Int("segments", len(job.Segments)),
		slog.Bool("push_to_s3", job.PushToS3),
	)

	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PipelineService) recordTexts(job *Job, input CreateInput) error {
	if len(input.Segments) > 0 {
		job.Segments = slices.Clone(input.Segments)
		source := input.Text
		if source == "" {
			source = joinSegments(input.Segments)
		}
		if err := job.Transcribe(source); err != nil {
			return err
		}
		return job.Translate(joinSegments(input.Segments))
	}

	if strings.TrimSpace(input.Text) == "" {
		return nil
	}
	if err := job.Transcribe(input.Text); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(input.Translated) != "":
		return job.Translate(input.Translated)
	case job.Kind != KindFullTranscript:
		return job.Translate(input.Text)
	}
	return nil
}

// RecordTranscript stores the source text of a NEW job.
func (s *PipelineService) RecordTranscript(ctx context.Context, jobID, text string) (*Job, error) {
	return s.withJob(ctx, jobID, func(ctx context.Context, job *Job) error {
		if err := job.Transcribe(text); err != nil {
			return err
		}
		return s.save(ctx, job)
	})
}

// RecordTranslation stores the text to narrate of a TRANSCRIBED job.
func (s *PipelineService) RecordTranslation(ctx context.Context, jobID, text string) (*Job, error) {
	return s.withJob(ctx, jobID, func(ctx context.Context, job *Job) error {
		if err := job.Translate(text); err != nil {
			return err
		}
		return s.save(ctx, job)
	})
}

// Synthesize plans the units of a TRANSLATED job and synthesizes them.
// With auto-assembly enabled a fully synthesized job continues to
// alignment and assembly.
func (s *PipelineService) Synthesize(ctx context.Context, jobID string) (*Job, error) {
	return s.withJob(ctx, jobID, func(ctx context.Context, job *Job) error {
		if err := s.synthesize(ctx, job); err != nil {
			return err
		}
		if s.autoAssemble {
			return s.finish(ctx, job)
		}
		return nil
	})
}

// RetryFailed re-synthesizes the unfinished units of a job in ERROR.
// Completed units are kept. With auto-assembly enabled the job continues
// to alignment and assembly.
func (s *PipelineService) RetryFailed(ctx context.Context, jobID string) (*Job, error) {
	return s.withJob(ctx, jobID, func(ctx context.Context, job *Job) error {
		if err := s.retry(ctx, job); err != nil {
			return err
		}
		if s.autoAssemble {
			return s.finish(ctx, job)
		}
		return nil
	})
}

// Align fits units with a target duration outside tolerance.
func (s *PipelineService) Align(ctx context.Context, jobID string) (*Job, error) {
	return s.withJob(ctx, jobID, s.align)
}

// Assemble joins the units of a synthesized job into its final track.
func (s *PipelineService) Assemble(ctx context.Context, jobID string) (*Job, error) {
	return s.withJob(ctx, jobID, s.assemble)
}

// Produce runs every remaining stage of a job, whatever stage it is in.
func (s *PipelineService) Produce(ctx context.Context, jobID string) (*Job, error) {
	return s.withJob(ctx, jobID, s.produce)
}

// StartProduce claims the job and runs Produce in the background. It
// returns ErrJobBusy synchronously when a stage is already running.
func (s *PipelineService) StartProduce(ctx context.Context, jobID string) error {
	return s.start(ctx, jobID, s.produce)
}

// StartRetry claims the job and runs RetryFailed in the background.
func (s *PipelineService) StartRetry(ctx context.Context, jobID string) error {
	return s.start(ctx, jobID, func(ctx context.Context, job *Job) error {
		if err := s.retry(ctx, job); err != nil {
			return err
		}
		return s.finish(ctx, job)
	})
}

// Reset moves a job back to target and deletes the files produced after it.
func (s *PipelineService) Reset(ctx context.Context, jobID string, target Status) (*Job, error) {
	return s.withJob(ctx, jobID, func(ctx context.Context, job *Job) error {
		files, err := job.Reset(target)
		if err != nil {
			return err
		}
		if err := s.store.Remove(ctx, files); err != nil {
			s.logger.Warn("failed to remove reset files",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		// pause and concat list files live only in the output directory
		if err := s.removeSubdir(ctx, job.ID, "output"); err != nil {
			s.logger.Warn("failed to clear output directory",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("job reset",
			slog.String("job_id", job.ID),
			slog.String("status", string(target)),
			slog.Int("removed_files", len(files)),
		)
		return s.save(ctx, job)
	})
}

// GetJob retrieves a job by ID.
func (s *PipelineService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns every job, newest first.
func (s *PipelineService) ListJobs(ctx context.Context) ([]*Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs, nil
}

// DeleteJob removes a job and its workspace.
func (s *PipelineService) DeleteJob(ctx context.Context, jobID string) error {
	release, err := s.acquire(jobID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := s.store.RemoveJobDir(ctx, jobID); err != nil {
		s.logger.Warn("failed to remove job directory",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// Wait blocks until background stages finish or ctx is done.
func (s *PipelineService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withJob runs fn on the job while holding its lock.
func (s *PipelineService) withJob(ctx context.Context, jobID string, fn func(context.Context, *Job) error) (*Job, error) {
	release, err := s.acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

func (s *PipelineService) start(ctx context.Context, jobID string, fn func(context.Context, *Job) error) error {
	release, err := s.acquire(jobID)
	if err != nil {
		return err
	}
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		release()
		return err
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		if err := fn(bg, job); err != nil {
			s.logger.Error("background processing failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

func (s *PipelineService) acquire(jobID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[jobID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrJobBusy, jobID)
	}
	s.busy[jobID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, jobID)
		s.mu.Unlock()
	}, nil
}

func (s *PipelineService) produce(ctx context.Context, job *Job) error {
	switch job.GetStatus() {
	case StatusTranslated:
		if err := s.synthesize(ctx, job); err != nil {
			return err
		}
	case StatusError:
		if err := s.retry(ctx, job); err != nil {
			return err
		}
	case StatusSynthesizing:
		if !job.AllUnitsCompleted() {
			if err := s.runUnits(ctx, job, unfinished(job.UnitsSnapshot())); err != nil {
				return err
			}
		}
	case StatusAligning, StatusMerging:
	case StatusCompleted:
		return nil
	default:
		return &StateError{From: job.GetStatus(), To: StatusSynthesizing}
	}
	return s.finish(ctx, job)
}

// finish aligns when needed and assembles.
func (s *PipelineService) finish(ctx context.Context, job *Job) error {
	if job.GetStatus() == StatusSynthesizing && job.NeedsAlignment(s.alignTolerance) {
		if err := s.align(ctx, job); err != nil {
			return err
		}
	}
	return s.assemble(ctx, job)
}

func (s *PipelineService) synthesize(ctx context.Context, job *Job) error {
	if err := job.BeginSynthesis(s.segmentOpts); err != nil {
		return err
	}
	s.logger.Info("synthesis started",
		slog.String("job_id", job.ID),
		slog.Int("units", len(job.Units)),
	)
	if err := s.save(ctx, job); err != nil {
		return err
	}
	return s.runUnits(ctx, job, job.UnitsSnapshot())
}

func (s *PipelineService) retry(ctx context.Context, job *Job) error {
	pending, err := job.Retry()
	if err != nil {
		return err
	}
	s.logger.Info("retrying failed units",
		slog.String("job_id", job.ID),
		slog.Int("units", len(pending)),
	)
	if err := s.save(ctx, job); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	return s.runUnits(ctx, job, pending)
}

func (s *PipelineService) runUnits(ctx context.Context, job *Job, units []Unit) error {
	start := time.Now()
	dir, err := s.jobSubdir(ctx, job.ID, "units")
	if err != nil {
		return s.fail(ctx, job, StatusSynthesizing, start, err)
	}

	res := s.orchestrator.Run(ctx, units, dir, func(u Unit) {
		job.UpdateUnit(u)
		if err := s.repo.Save(ctx, job); err != nil {
			s.logger.Warn("failed to save unit progress",
				slog.String("job_id", job.ID),
				slog.Int("unit_index", u.Index),
				slog.String("error", err.Error()),
			)
		}
	})
	// A retry runs a subset; the job error always counts every unit.
	if err := unitsError(job.UnitsSnapshot()); err != nil {
		return s.fail(ctx, job, StatusSynthesizing, start, err)
	}
	if !job.AllUnitsCompleted() {
		return s.fail(ctx, job, StatusSynthesizing, start, ErrUnitsIncomplete)
	}

	s.metrics.stageDone(ctx, StatusSynthesizing, false, time.Since(start))
	s.logger.Info("synthesis completed",
		slog.String("job_id", job.ID),
		slog.Int("units", res.Total),
		slog.Duration("elapsed", time.Since(start)),
	)
	return s.save(ctx, job)
}

func (s *PipelineService) align(ctx context.Context, job *Job) error {
	if err := job.TransitionTo(StatusAligning); err != nil {
		return err
	}
	if err := s.save(ctx, job); err != nil {
		return err
	}

	start := time.Now()
	dir, err := s.jobSubdir(ctx, job.ID, "aligned")
	if err != nil {
		return s.fail(ctx, job, StatusAligning, start, err)
	}

	aligned := 0
	for _, u := range job.UnitsSnapshot() {
		if u.TargetDuration <= 0 || u.Aligned {
			continue
		}
		if audio.WithinTolerance(u.Duration, u.TargetDuration, s.alignTolerance) {
			continue
		}
		out := filepath.Join(dir, fmt.Sprintf("unit_%03d_aligned%s", u.Index, filepath.Ext(u.FilePath)))
		res, err := s.aligner.Align(ctx, u.FilePath, out, u.TargetDuration)
		if err != nil {
			return s.fail(ctx, job, StatusAligning, start, fmt.Errorf("unit %d: %w", u.Index, err))
		}
		u.SourcePath = u.FilePath
		u.FilePath = res.OutputPath
		u.Duration = res.OutputDuration
		u.SpeedRatio = res.TempoRatio
		u.Aligned = true
		job.UpdateUnit(u)
		aligned++
	}

	s.metrics.stageDone(ctx, StatusAligning, false, time.Since(start))
	s.logger.Info("alignment completed",
		slog.String("job_id", job.ID),
		slog.Int("aligned_units", aligned),
	)
	return s.save(ctx, job)
}

func (s *PipelineService) assemble(ctx context.Context, job *Job) error {
	if job.GetStatus() != StatusMerging {
		if err := job.TransitionTo(StatusMerging); err != nil {
			return err
		}
		if err := s.save(ctx, job); err != nil {
			return err
		}
	}

	start := time.Now()
	dir, err := s.jobSubdir(ctx, job.ID, "output")
	if err != nil {
		return s.fail(ctx, job, StatusMerging, start, err)
	}

	units := job.UnitsSnapshot()
	tracks := make([]audio.Track, len(units))
	for i, u := range units {
		tracks[i] = audio.Track{Index: u.Index, Path: u.FilePath, Completed: u.Completed()}
	}

	snapshot := job.Clone()
	res, err := s.assembler.Assemble(ctx, audio.Request{
		Tracks:         tracks,
		Mix:            snapshot.Mix,
		OutDir:         dir,
		PauseBetween:   snapshot.PauseBetween,
		TargetDuration: snapshot.TargetDuration,
	})
	if err != nil {
		return s.fail(ctx, job, StatusMerging, start, err)
	}
	job.SetFinal(res)
	if res.MixErr != nil {
		s.logger.Warn("music mix failed, kept voice-only track",
			slog.String("job_id", job.ID),
			slog.String("error", res.MixErr.Error()),
		)
	}

	if snapshot.PushToS3 {
		s.publish(ctx, job, res.Path)
	}

	if err := job.Complete(); err != nil {
		return s.fail(ctx, job, StatusMerging, start, err)
	}
	s.metrics.stageDone(ctx, StatusMerging, false, time.Since(start))
	s.metrics.jobDone(ctx, job.Kind, StatusCompleted)
	s.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("final_audio_path", res.Path),
		slog.Float64("duration", res.Duration),
		slog.Bool("mixed", res.Mixed),
	)
	return s.save(ctx, job)
}

// publish uploads the final track. Failures leave the local file as the result.
func (s *PipelineService) publish(ctx context.Context, job *Job, path string) {
	f, err := os.Open(path) // #nosec G304 - path is produced by the assembler
	if err != nil {
		s.logger.Warn("failed to open final track for upload",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer func() { _ = f.Close() }()

	key := fmt.Sprintf("jobs/%s/%s", job.ID, filepath.Base(path))
	url, err := s.store.Publish(ctx, key, f)
	if err != nil {
		s.logger.Warn("failed to publish final track",
			slog.String("job_id", job.ID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	job.SetFinalURL(url)
	s.logger.Info("final track published",
		slog.String("job_id", job.ID),
		slog.String("url", url),
	)
}

// fail records cause on the job, persists it and returns cause.
func (s *PipelineService) fail(ctx context.Context, job *Job, stage Status, start time.Time, cause error) error {
	msg := diagnostic(cause)
	s.logger.Error("stage failed",
		slog.String("job_id", job.ID),
		slog.String("status", string(stage)),
		slog.String("error", msg),
	)
	s.metrics.stageDone(ctx, stage, true, time.Since(start))
	if err := job.Fail(msg); err != nil {
		return errors.Join(cause, err)
	}
	s.metrics.jobDone(ctx, job.Kind, StatusError)
	if err := s.save(ctx, job); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// save persists the job and publishes its status.
func (s *PipelineService) save(ctx context.Context, job *Job) error {
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	snap := job.Clone()
	event := notify.Event{
		JobID:          snap.ID,
		Kind:           string(snap.Kind),
		Status:         string(snap.Status),
		Progress:       snap.Progress,
		Error:          snap.Error,
		FinalAudioPath: snap.FinalAudioPath,
		FinalURL:       snap.FinalURL,
		At:             snap.UpdatedAt,
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *PipelineService) jobSubdir(ctx context.Context, jobID, name string) (string, error) {
	root, err := s.store.JobDir(ctx, jobID)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create %s directory: %w", name, err)
	}
	return dir, nil
}

func (s *PipelineService) removeSubdir(ctx context.Context, jobID, name string) error {
	root, err := s.store.JobDir(ctx, jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(root, name))
}

// completeMix fills unset fades from the configured defaults.
func (s *PipelineService) completeMix(m audio.MixSpec) audio.MixSpec {
	def := audio.DefaultMixSpec()
	if s.defaultMix != nil {
		def = *s.defaultMix
	}
	if m.IntroFade == 0 {
		m.IntroFade = def.IntroFade
	}
	if m.OutroFade == 0 {
		m.OutroFade = def.OutroFade
	}
	if m.OutroExtend == 0 {
		m.OutroExtend = def.OutroExtend
	}
	return m
}

// diagnostic prefers the tool's stderr tail over the wrapped message.
func diagnostic(err error) string {
	var d interface{ Diagnostic() string }
	if errors.As(err, &d) {
		if msg := d.Diagnostic(); msg != "" {
			return err.Error() + ": " + msg
		}
	}
	return err.Error()
}

func unfinished(units []Unit) []Unit {
	var out []Unit
	for _, u := range units {
		if !u.Completed() {
			out = append(out, u)
		}
	}
	return out
}

// MergeVoice returns base with the non-zero fields of override applied.
func MergeVoice(base, override synth.Voice) synth.Voice {
	if override.Provider != "" {
		base.Provider = override.Provider
	}
	if override.VoiceID != "" {
		base.VoiceID = override.VoiceID
	}
	if override.Gender != "" {
		base.Gender = override.Gender
	}
	if override.Style != "" {
		base.Style = override.Style
	}
	if override.Speed != 0 {
		base.Speed = override.Speed
	}
	return base
}

func joinSegments(segments []TimedSegment) string {
	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n\n")
}
