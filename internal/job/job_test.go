package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/segment"
	"github.com/maauso/voicetrack/internal/synth"
)

func completedUnits(n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{Index: i, Status: UnitCompleted, FilePath: "/tmp/u.mp3", Duration: 1}
	}
	return units
}

func TestNew(t *testing.T) {
	job := New(KindProject)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, KindProject, job.Kind)
	assert.Equal(t, StatusNew, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())
	assert.NotNil(t, job.Units)
}

func TestNewWithID_DefaultsToChapter(t *testing.T) {
	job := NewWithID("test-job-123", "")

	assert.Equal(t, "test-job-123", job.ID)
	assert.Equal(t, KindChapter, job.Kind)
	assert.Equal(t, StatusNew, job.Status)
}

func TestKind_IsValid(t *testing.T) {
	assert.True(t, KindChapter.IsValid())
	assert.True(t, KindProject.IsValid())
	assert.True(t, KindFullTranscript.IsValid())
	assert.False(t, Kind("podcast").IsValid())
}

func TestJob_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"NEW to TRANSCRIBED", StatusNew, StatusTranscribed, false},
		{"NEW to ERROR", StatusNew, StatusError, false},
		{"TRANSCRIBED to TRANSLATED", StatusTranscribed, StatusTranslated, false},
		{"TRANSLATED to SYNTHESIZING", StatusTranslated, StatusSynthesizing, false},
		{"SYNTHESIZING to ALIGNING", StatusSynthesizing, StatusAligning, false},
		{"SYNTHESIZING to MERGING", StatusSynthesizing, StatusMerging, false},
		{"SYNTHESIZING to ERROR", StatusSynthesizing, StatusError, false},
		{"ALIGNING to MERGING", StatusAligning, StatusMerging, false},
		{"MERGING to ERROR", StatusMerging, StatusError, false},
		{"ERROR to SYNTHESIZING", StatusError, StatusSynthesizing, false},

		{"NEW to SYNTHESIZING", StatusNew, StatusSynthesizing, true},
		{"TRANSCRIBED to SYNTHESIZING", StatusTranscribed, StatusSynthesizing, true},
		{"MERGING to SYNTHESIZING", StatusMerging, StatusSynthesizing, true},
		{"ALIGNING to SYNTHESIZING", StatusAligning, StatusSynthesizing, true},
		{"COMPLETED to SYNTHESIZING", StatusCompleted, StatusSynthesizing, true},
		{"COMPLETED to ERROR", StatusCompleted, StatusError, true},
		{"ERROR to COMPLETED", StatusError, StatusCompleted, true},
		{"ERROR to MERGING", StatusError, StatusMerging, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test", KindChapter)
			job.Status = tt.from
			job.Units = completedUnits(2)

			err := job.TransitionTo(tt.to)
			if tt.wantErr {
				var se *StateError
				require.ErrorAs(t, err, &se)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, se.From)
				assert.Equal(t, tt.to, se.To)
				assert.Equal(t, tt.from, job.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, job.Status)
		})
	}
}

func TestJob_LeavingSynthesisRequiresCompletedUnits(t *testing.T) {
	job := NewWithID("test", KindChapter)
	job.Status = StatusSynthesizing
	job.Units = completedUnits(3)
	job.Units[1].Status = UnitError

	assert.ErrorIs(t, job.TransitionTo(StatusMerging), ErrUnitsIncomplete)
	assert.ErrorIs(t, job.TransitionTo(StatusAligning), ErrUnitsIncomplete)
	assert.Equal(t, StatusSynthesizing, job.Status)

	job.Units = nil
	assert.ErrorIs(t, job.TransitionTo(StatusMerging), ErrUnitsIncomplete)

	require.NoError(t, job.TransitionTo(StatusError))
}

func TestJob_CompleteRequiresFinalAudio(t *testing.T) {
	job := NewWithID("test", KindChapter)
	job.Status = StatusMerging
	job.Units = completedUnits(1)

	assert.ErrorIs(t, job.Complete(), ErrNoFinalAudio)

	job.SetFinal(audio.Result{Path: "/tmp/final.mp3", Duration: 12, VoiceDuration: 10})
	require.NoError(t, job.Complete())
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.False(t, job.CompletedAt.IsZero())
	assert.True(t, job.IsTerminal())
}

func TestJob_TranscribeAndTranslate(t *testing.T) {
	job := NewWithID("test", KindFullTranscript)

	assert.ErrorIs(t, job.Transcribe(""), ErrEmptyText)
	assert.ErrorIs(t, job.Transcribe(" \n\t "), ErrEmptyText)
	assert.ErrorIs(t, job.Translate("hola"), ErrInvalidTransition)

	require.NoError(t, job.Transcribe("hello"))
	assert.Equal(t, StatusTranscribed, job.Status)
	assert.Equal(t, "hello", job.SourceText)
	assert.ErrorIs(t, job.Translate("   "), ErrEmptyText)

	require.NoError(t, job.Translate("hola"))
	assert.Equal(t, StatusTranslated, job.Status)
	assert.Equal(t, "hola", job.Text)

	assert.ErrorIs(t, job.Transcribe("again"), ErrInvalidTransition)
}

func TestJob_BeginSynthesis_PlansUnits(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Voice = synth.Voice{VoiceID: "narrator"}
	job.SpokenIntro = "Chapter one."
	job.SpokenOutro = "End of chapter one."
	require.NoError(t, job.Transcribe("x"))
	require.NoError(t, job.Translate("First paragraph.\n\nSecond paragraph."))

	require.NoError(t, job.BeginSynthesis(segment.Options{MaxChars: 20}))

	assert.Equal(t, StatusSynthesizing, job.Status)
	assert.False(t, job.StartedAt.IsZero())
	require.Len(t, job.Units, 2)
	assert.Equal(t, "Chapter one.\n\nFirst paragraph.", job.Units[0].SourceText)
	assert.Equal(t, "Second paragraph.\n\nEnd of chapter one.", job.Units[1].SourceText)
	for i, u := range job.Units {
		assert.Equal(t, i, u.Index)
		assert.Equal(t, UnitPending, u.Status)
		assert.Equal(t, "narrator", u.Voice.VoiceID)
		assert.Zero(t, u.TargetDuration)
	}
	assert.Equal(t, "job-1-u001", job.Units[1].ID)
}

func TestJob_BeginSynthesis_TimedSegments(t *testing.T) {
	job := NewWithID("job-1", KindFullTranscript)
	job.Segments = []TimedSegment{{Text: "Hola.", Duration: 1.5}, {Text: "Adiós.", Duration: 2}}
	require.NoError(t, job.Transcribe("Hello. Bye."))
	require.NoError(t, job.Translate("Hola.\n\nAdiós."))

	require.NoError(t, job.BeginSynthesis(segment.DefaultOptions()))

	require.Len(t, job.Units, 2)
	assert.Equal(t, "Hola.", job.Units[0].SourceText)
	assert.Equal(t, 1.5, job.Units[0].TargetDuration)
	assert.Equal(t, 2.0, job.Units[1].TargetDuration)
}

func TestJob_BeginSynthesis_WrongState(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	assert.ErrorIs(t, job.BeginSynthesis(segment.DefaultOptions()), ErrInvalidTransition)
}

func TestJob_UpdateUnitProgress(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Units = []Unit{{Index: 0, Status: UnitPending}, {Index: 1, Status: UnitPending}}

	job.UpdateUnit(Unit{Index: 1, Status: UnitCompleted, FilePath: "b.mp3"})
	assert.Equal(t, 45, job.Progress)
	assert.False(t, job.AllUnitsCompleted())

	job.UpdateUnit(Unit{Index: 0, Status: UnitCompleted, FilePath: "a.mp3"})
	assert.Equal(t, 90, job.Progress)
	assert.True(t, job.AllUnitsCompleted())
}

func TestJob_NeedsAlignment(t *testing.T) {
	job := NewWithID("job-1", KindFullTranscript)
	job.Units = []Unit{
		{Index: 0, Status: UnitCompleted, FilePath: "a", Duration: 2.05, TargetDuration: 2},
		{Index: 1, Status: UnitCompleted, FilePath: "b", Duration: 5},
	}
	assert.False(t, job.NeedsAlignment(0.10))

	job.Units[0].Duration = 3
	assert.True(t, job.NeedsAlignment(0.10))

	job.Units[0].Aligned = true
	assert.False(t, job.NeedsAlignment(0.10))
}

func TestJob_Fail(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Status = StatusSynthesizing

	require.NoError(t, job.Fail("1/5 chunks failed"))
	assert.Equal(t, StatusError, job.Status)
	assert.Equal(t, "1/5 chunks failed", job.Error)

	require.NoError(t, job.Fail("probe failed"))
	assert.Equal(t, "probe failed", job.Error)

	job.Status = StatusCompleted
	assert.ErrorIs(t, job.Fail("late"), ErrInvalidTransition)
}

func TestJob_Retry(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Status = StatusError
	job.Error = "1/3 chunks failed"
	job.Units = completedUnits(3)
	job.Units[1] = Unit{Index: 1, Status: UnitError, Error: "boom"}

	pending, err := job.Retry()
	require.NoError(t, err)

	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Index)
	assert.Equal(t, UnitPending, pending[0].Status)
	assert.Equal(t, StatusSynthesizing, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, UnitCompleted, job.Units[0].Status)

	_, err = job.Retry()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func completedJob() *Job {
	job := NewWithID("job-1", KindChapter)
	job.SourceText = "source"
	job.Text = "text"
	job.Status = StatusCompleted
	job.Units = []Unit{
		{Index: 0, Status: UnitCompleted, FilePath: "/w/units/unit_000.mp3", Duration: 2},
		{Index: 1, Status: UnitCompleted, FilePath: "/w/aligned/unit_001_aligned.mp3", Duration: 2, Aligned: true, SpeedRatio: 1.5},
	}
	job.FinalAudioPath = "/w/output/final.mp3"
	job.FinalURL = "https://cdn/final.mp3"
	job.TotalDuration = 4
	job.Alignment = &audio.AlignmentResult{TempoRatio: 1.2}
	job.Progress = 100
	return job
}

func TestJob_Reset_ToSynthesizing(t *testing.T) {
	job := completedJob()

	files, err := job.Reset(StatusSynthesizing)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"/w/units/unit_000.mp3",
		"/w/aligned/unit_001_aligned.mp3",
		"/w/output/final.mp3",
	}, files)
	assert.Equal(t, StatusSynthesizing, job.Status)
	require.Len(t, job.Units, 2)
	for _, u := range job.Units {
		assert.Equal(t, UnitPending, u.Status)
		assert.Empty(t, u.FilePath)
		assert.Zero(t, u.Duration)
		assert.False(t, u.Aligned)
		assert.Zero(t, u.SpeedRatio)
	}
	assert.Empty(t, job.FinalAudioPath)
	assert.Empty(t, job.FinalURL)
	assert.Nil(t, job.Alignment)
	assert.Zero(t, job.Progress)
	assert.Equal(t, "text", job.Text)

	again, err := job.Reset(StatusSynthesizing)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, StatusSynthesizing, job.Status)
}

func TestJob_Reset_EarlierTargets(t *testing.T) {
	job := completedJob()
	_, err := job.Reset(StatusTranscribed)
	require.NoError(t, err)
	assert.Equal(t, StatusTranscribed, job.Status)
	assert.Empty(t, job.Units)
	assert.Empty(t, job.Text)
	assert.Equal(t, "source", job.SourceText)

	job = completedJob()
	_, err = job.Reset(StatusNew)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, job.Status)
	assert.Empty(t, job.SourceText)
}

func TestJob_Reset_Rejected(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Status = StatusTranslated

	_, err := job.Reset(StatusSynthesizing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = job.Reset(StatusAligning)
	assert.ErrorIs(t, err, ErrInvalidResetTarget)

	_, err = job.Reset(StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidResetTarget)
}

func TestJob_Reset_FromError(t *testing.T) {
	job := NewWithID("job-1", KindChapter)
	job.Status = StatusError
	job.Error = "boom"

	_, err := job.Reset(StatusSynthesizing)
	require.NoError(t, err)
	assert.Equal(t, StatusSynthesizing, job.Status)
	assert.Empty(t, job.Error)
}

func TestJob_Clone(t *testing.T) {
	job := completedJob()
	job.Mix = &audio.MixSpec{Intro: &audio.Asset{Path: "intro.mp3"}, IntroFade: 3}
	job.Alignment.Stages = []float64{1.2}

	c := job.Clone()
	c.Units[0].FilePath = "changed"
	c.Mix.Intro.Path = "changed"
	c.Alignment.Stages[0] = 9

	assert.Equal(t, "/w/units/unit_000.mp3", job.Units[0].FilePath)
	assert.Equal(t, "intro.mp3", job.Mix.Intro.Path)
	assert.Equal(t, 1.2, job.Alignment.Stages[0])
	assert.Equal(t, job.ID, c.ID)
	assert.Equal(t, job.Status, c.Status)
}
