// Package job provides the production Job aggregate and the pipeline that
// drives it: text is segmented into units, units are synthesized in
// parallel, optionally aligned to target durations, and assembled into one
// track. The Job carries a state machine that only moves forward, except
// for explicit resets and retries after an error.
package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/job/id"
	"github.com/maauso/voicetrack/internal/segment"
	"github.com/maauso/voicetrack/internal/synth"
)

// Kind is the type of production a job represents.
type Kind string

const (
	// KindChapter narrates one chapter of a book.
	KindChapter Kind = "chapter"
	// KindProject narrates a whole project in one pass.
	KindProject Kind = "project"
	// KindFullTranscript dubs a translated transcript of a video.
	KindFullTranscript Kind = "full_transcript"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindChapter || k == KindProject || k == KindFullTranscript
}

// Status represents the current stage of a Job.
type Status string

const (
	// StatusNew indicates the job exists but has no text yet.
	StatusNew Status = "NEW"
	// StatusTranscribed indicates the source text is recorded.
	StatusTranscribed Status = "TRANSCRIBED"
	// StatusTranslated indicates the text to narrate is recorded.
	StatusTranslated Status = "TRANSLATED"
	// StatusSynthesizing indicates units are being synthesized.
	StatusSynthesizing Status = "SYNTHESIZING"
	// StatusAligning indicates units are being fitted to their target durations.
	StatusAligning Status = "ALIGNING"
	// StatusMerging indicates units are being assembled into the final track.
	StatusMerging Status = "MERGING"
	// StatusCompleted indicates the final track is available.
	StatusCompleted Status = "COMPLETED"
	// StatusError indicates a stage failed. Failed units can be retried.
	StatusError Status = "ERROR"
)

// Static errors for job state handling.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnitsIncomplete is returned when advancing past synthesis with unfinished units.
	ErrUnitsIncomplete = errors.New("not all units are completed")
	// ErrNoFinalAudio is returned when completing a job without a final track.
	ErrNoFinalAudio = errors.New("final audio path is empty")
	// ErrInvalidResetTarget is returned when resetting to a stage that cannot be re-entered.
	ErrInvalidResetTarget = errors.New("invalid reset target")
	// ErrEmptyText is returned when recording empty text.
	ErrEmptyText = errors.New("text is empty")
)

// StateError describes a rejected state change.
type StateError struct {
	From Status
	To   Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition.
func (e *StateError) Unwrap() error {
	return ErrInvalidTransition
}

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusNew:          {StatusTranscribed, StatusError},
	StatusTranscribed:  {StatusTranslated, StatusError},
	StatusTranslated:   {StatusSynthesizing, StatusError},
	StatusSynthesizing: {StatusAligning, StatusMerging, StatusCompleted, StatusError},
	StatusAligning:     {StatusMerging, StatusCompleted, StatusError},
	StatusMerging:      {StatusCompleted, StatusError},
	StatusError:        {StatusSynthesizing},
	StatusCompleted:    {},
}

// stageOrder ranks the forward stages for reset checks.
var stageOrder = map[Status]int{
	StatusNew:          0,
	StatusTranscribed:  1,
	StatusTranslated:   2,
	StatusSynthesizing: 3,
	StatusAligning:     4,
	StatusMerging:      5,
	StatusCompleted:    6,
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// requiresCompletedUnits reports whether entering status needs every unit done.
func requiresCompletedUnits(status Status) bool {
	return status == StatusAligning || status == StatusMerging || status == StatusCompleted
}

// UnitStatus represents the synthesis status of a single unit.
type UnitStatus string

const (
	// UnitPending indicates the unit is waiting to be synthesized.
	UnitPending UnitStatus = "PENDING"
	// UnitProcessing indicates the unit is being synthesized.
	UnitProcessing UnitStatus = "PROCESSING"
	// UnitCompleted indicates the unit has audio.
	UnitCompleted UnitStatus = "COMPLETED"
	// UnitError indicates synthesis failed for the unit.
	UnitError UnitStatus = "ERROR"
)

// Unit is one synthesized piece of a job.
type Unit struct {
	ID         string      `json:"id"`
	Index      int         `json:"index"`
	SourceText string      `json:"source_text"`
	FilePath   string      `json:"file_path,omitempty"`
	Duration   float64     `json:"duration,omitempty"`
	Status     UnitStatus  `json:"status"`
	Error      string      `json:"error,omitempty"`
	Voice      synth.Voice `json:"voice"`
	// TargetDuration is the slot length the unit should fit, 0 when free.
	TargetDuration float64 `json:"target_duration,omitempty"`
	Aligned        bool    `json:"aligned,omitempty"`
	SpeedRatio     float64 `json:"speed_ratio,omitempty"`
	// SourcePath is the synthesized file an aligned FilePath was made from.
	SourcePath string `json:"source_path,omitempty"`
}

// Completed reports whether the unit has usable audio.
func (u Unit) Completed() bool {
	return u.Status == UnitCompleted && u.FilePath != ""
}

// clearAudio drops everything produced for the unit and returns the files to delete.
func (u *Unit) clearAudio() []string {
	var files []string
	for _, p := range []string{u.FilePath, u.SourcePath} {
		if p != "" {
			files = append(files, p)
		}
	}
	u.FilePath = ""
	u.SourcePath = ""
	u.Duration = 0
	u.Status = UnitPending
	u.Error = ""
	u.Aligned = false
	u.SpeedRatio = 0
	return files
}

// TimedSegment is a piece of transcript bound to a slot in the source video.
type TimedSegment struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

// Job represents an audio production job aggregate.
type Job struct {
	mu sync.RWMutex

	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`
	// SourceText is the transcript or manuscript.
	SourceText string `json:"source_text,omitempty"`
	// Text is what gets narrated: the translation, or the source itself.
	Text string `json:"text,omitempty"`
	// Segments, when present, replace text segmentation with one unit per slot.
	Segments    []TimedSegment `json:"segments,omitempty"`
	SpokenIntro string         `json:"spoken_intro,omitempty"`
	SpokenOutro string         `json:"spoken_outro,omitempty"`
	Voice       synth.Voice    `json:"voice"`
	Mix         *audio.MixSpec `json:"mix,omitempty"`
	// PauseBetween is the silence in seconds inserted between units.
	PauseBetween float64 `json:"pause_between,omitempty"`
	// TargetDuration fits the whole voice track to this length when positive.
	TargetDuration float64 `json:"target_duration,omitempty"`
	PushToS3       bool    `json:"push_to_s3,omitempty"`

	Units          []Unit                 `json:"units"`
	Progress       int                    `json:"progress"`
	FinalAudioPath string                 `json:"final_audio_path,omitempty"`
	FinalURL       string                 `json:"final_url,omitempty"`
	TotalDuration  float64                `json:"total_duration,omitempty"`
	VoiceDuration  float64                `json:"voice_duration,omitempty"`
	Alignment      *audio.AlignmentResult `json:"alignment,omitempty"`
	MixError       string                 `json:"mix_error,omitempty"`
	Error          string                 `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// New creates a new Job with a generated ID in NEW status.
func New(kind Kind) *Job {
	return NewWithID(id.Generate(), kind)
}

// NewWithID creates a new Job with the specified ID in NEW status.
func NewWithID(jobID string, kind Kind) *Job {
	if kind == "" {
		kind = KindChapter
	}
	now := time.Now()
	return &Job{
		ID:        jobID,
		Kind:      kind,
		Status:    StatusNew,
		Units:     make([]Unit, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns a *StateError if the transition is not allowed, and
// ErrUnitsIncomplete when leaving synthesis with unfinished units.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return &StateError{From: j.Status, To: status}
	}
	if requiresCompletedUnits(status) && !j.allUnitsCompletedLocked() {
		return fmt.Errorf("%w: %s -> %s", ErrUnitsIncomplete, j.Status, status)
	}
	if status == StatusCompleted && j.FinalAudioPath == "" {
		return ErrNoFinalAudio
	}

	from := j.Status
	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusSynthesizing:
		if from == StatusError {
			j.Error = ""
			j.CompletedAt = time.Time{}
		}
		if j.StartedAt.IsZero() {
			j.StartedAt = j.UpdatedAt
		}
	case StatusCompleted, StatusError:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Transcribe records the source text and moves NEW to TRANSCRIBED.
func (j *Job) Transcribe(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusTranscribed); err != nil {
		return err
	}
	j.SourceText = text
	return nil
}

// Translate records the text to narrate and moves TRANSCRIBED to TRANSLATED.
func (j *Job) Translate(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusTranslated); err != nil {
		return err
	}
	j.Text = text
	return nil
}

// BeginSynthesis moves TRANSLATED to SYNTHESIZING and plans one unit per
// timed segment, or per chunk of the narrated text.
func (j *Job) BeginSynthesis(opts segment.Options) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSynthesizing); err != nil {
		return err
	}
	j.Units = j.planLocked(opts)
	j.Progress = 0
	return nil
}

// Retry moves ERROR back to SYNTHESIZING and marks every unfinished unit
// PENDING. It returns the units that still need synthesis.
func (j *Job) Retry() ([]Unit, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusError {
		return nil, &StateError{From: j.Status, To: StatusSynthesizing}
	}
	j.Status = StatusSynthesizing
	j.Error = ""
	j.CompletedAt = time.Time{}
	j.UpdatedAt = time.Now()

	var pending []Unit
	for i := range j.Units {
		if j.Units[i].Completed() {
			continue
		}
		j.Units[i].clearAudio()
		pending = append(pending, j.Units[i])
	}
	return pending, nil
}

func (j *Job) planLocked(opts segment.Options) []Unit {
	var texts []string
	var targets []float64
	if len(j.Segments) > 0 {
		for _, s := range j.Segments {
			texts = append(texts, s.Text)
			targets = append(targets, s.Duration)
		}
	} else {
		for _, c := range segment.Split(j.Text, opts) {
			texts = append(texts, c.Text)
			targets = append(targets, 0)
		}
	}

	if n := len(texts); n > 0 {
		if j.SpokenIntro != "" {
			texts[0] = j.SpokenIntro + "\n\n" + texts[0]
		}
		if j.SpokenOutro != "" {
			texts[n-1] = texts[n-1] + "\n\n" + j.SpokenOutro
		}
	}

	units := make([]Unit, len(texts))
	for i, text := range texts {
		units[i] = Unit{
			ID:             id.Unit(j.ID, i),
			Index:          i,
			SourceText:     text,
			Status:         UnitPending,
			Voice:          j.Voice,
			TargetDuration: targets[i],
		}
	}
	return units
}

// UpdateUnit replaces the unit with the same index and refreshes progress.
func (j *Job) UpdateUnit(u Unit) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.Units {
		if j.Units[i].Index == u.Index {
			j.Units[i] = u
			break
		}
	}
	j.Progress = j.progressLocked()
	j.UpdatedAt = time.Now()
}

// UnitsSnapshot returns a copy of the units.
func (j *Job) UnitsSnapshot() []Unit {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.Units)
}

// AllUnitsCompleted reports whether every unit has audio. A job without
// units is not complete.
func (j *Job) AllUnitsCompleted() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.allUnitsCompletedLocked()
}

func (j *Job) allUnitsCompletedLocked() bool {
	if len(j.Units) == 0 {
		return false
	}
	for _, u := range j.Units {
		if !u.Completed() {
			return false
		}
	}
	return true
}

// NeedsAlignment reports whether any unit must be fitted to a target
// duration outside tolerance.
func (j *Job) NeedsAlignment(tolerance float64) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, u := range j.Units {
		if u.TargetDuration > 0 && !u.Aligned && !audio.WithinTolerance(u.Duration, u.TargetDuration, tolerance) {
			return true
		}
	}
	return false
}

// progressLocked weights synthesis at 90% and leaves the rest to assembly.
func (j *Job) progressLocked() int {
	if len(j.Units) == 0 {
		return 0
	}
	done := 0
	for _, u := range j.Units {
		if u.Status == UnitCompleted {
			done++
		}
	}
	return done * 90 / len(j.Units)
}

// SetFinal records the assembled track.
func (j *Job) SetFinal(res audio.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FinalAudioPath = res.Path
	j.TotalDuration = res.Duration
	j.VoiceDuration = res.VoiceDuration
	j.Alignment = res.Alignment
	j.MixError = ""
	if res.MixErr != nil {
		j.MixError = res.MixErr.Error()
	}
	j.UpdatedAt = time.Now()
}

// SetFinalURL records where the final track was published.
func (j *Job) SetFinalURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FinalURL = url
	j.UpdatedAt = time.Now()
}

// Complete transitions the job to COMPLETED. Every unit must be completed
// and the final track recorded.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail transitions the job to ERROR with an error message. Failing a job
// that is already in ERROR only replaces the message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusError {
		j.Error = errMsg
		j.UpdatedAt = time.Now()
		return nil
	}
	if err := j.transitionLocked(StatusError); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Reset moves the job back to target, which must be NEW, TRANSCRIBED,
// TRANSLATED or SYNTHESIZING, and discards everything produced after it.
// It is allowed from any stage at or after target and from ERROR, and is
// idempotent. The returned paths are the files that no longer belong to
// the job.
func (j *Job) Reset(target Status) ([]string, error) {
	targetRank, ok := stageOrder[target]
	if !ok || targetRank > stageOrder[StatusSynthesizing] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResetTarget, target)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != StatusError && stageOrder[j.Status] < targetRank {
		return nil, &StateError{From: j.Status, To: target}
	}

	var files []string
	for i := range j.Units {
		files = append(files, j.Units[i].clearAudio()...)
	}
	if j.FinalAudioPath != "" {
		files = append(files, j.FinalAudioPath)
	}
	j.FinalAudioPath = ""
	j.FinalURL = ""
	j.TotalDuration = 0
	j.VoiceDuration = 0
	j.Alignment = nil
	j.MixError = ""
	j.Error = ""
	j.Progress = 0
	j.CompletedAt = time.Time{}

	if target != StatusSynthesizing {
		j.Units = make([]Unit, 0)
		j.StartedAt = time.Time{}
	}
	switch target {
	case StatusTranscribed:
		j.Text = ""
	case StatusNew:
		j.Text = ""
		j.SourceText = ""
	}

	j.Status = target
	j.UpdatedAt = time.Now()
	return files, nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if no stage is running or pending for the job.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusError
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	c := &Job{
		ID:             j.ID,
		Kind:           j.Kind,
		Status:         j.Status,
		SourceText:     j.SourceText,
		Text:           j.Text,
		Segments:       slices.Clone(j.Segments),
		SpokenIntro:    j.SpokenIntro,
		SpokenOutro:    j.SpokenOutro,
		Voice:          j.Voice,
		PauseBetween:   j.PauseBetween,
		TargetDuration: j.TargetDuration,
		PushToS3:       j.PushToS3,
		Units:          slices.Clone(j.Units),
		Progress:       j.Progress,
		FinalAudioPath: j.FinalAudioPath,
		FinalURL:       j.FinalURL,
		TotalDuration:  j.TotalDuration,
		VoiceDuration:  j.VoiceDuration,
		MixError:       j.MixError,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
	if c.Units == nil {
		c.Units = make([]Unit, 0)
	}
	if j.Mix != nil {
		mix := *j.Mix
		if j.Mix.Intro != nil {
			intro := *j.Mix.Intro
			mix.Intro = &intro
		}
		if j.Mix.Outro != nil {
			outro := *j.Mix.Outro
			mix.Outro = &outro
		}
		c.Mix = &mix
	}
	if j.Alignment != nil {
		a := *j.Alignment
		a.Stages = slices.Clone(j.Alignment.Stages)
		c.Alignment = &a
	}
	return c
}
