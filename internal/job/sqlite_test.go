package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/synth"
)

func openTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "data", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repositoryContract(t, openTestSQLite(t))
}

func TestSQLiteRepository_RoundTripsDocument(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	job := completedJob()
	job.Kind = KindFullTranscript
	job.Voice = synth.Voice{Provider: "edge", VoiceID: "vi-VN-HoaiMyNeural", Speed: 1.1}
	job.Mix = &audio.MixSpec{Intro: &audio.Asset{Path: "intro.mp3", Duration: 8}, IntroFade: 3, OutroFade: 10, OutroExtend: 5}
	job.Segments = []TimedSegment{{Text: "Hola.", Duration: 1.5}}
	require.NoError(t, repo.Save(ctx, job))

	got, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)

	assert.Equal(t, KindFullTranscript, got.Kind)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, job.Voice, got.Voice)
	require.NotNil(t, got.Mix)
	assert.Equal(t, 8.0, got.Mix.Intro.Duration)
	assert.Equal(t, job.Units, got.Units)
	assert.Equal(t, job.Segments, got.Segments)
	assert.Equal(t, job.FinalAudioPath, got.FinalAudioPath)
	assert.Equal(t, 1.2, got.Alignment.TempoRatio)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLiteRepository_ListOrdersByCreation(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	first := New(KindChapter)
	second := New(KindChapter)
	second.CreatedAt = first.CreatedAt.Add(1)
	require.NoError(t, repo.Save(ctx, second))
	require.NoError(t, repo.Save(ctx, first))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestSQLiteRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	repo, err := OpenSQLiteRepository(ctx, path)
	require.NoError(t, err)
	job := New(KindProject)
	require.NoError(t, repo.Save(ctx, job))
	require.NoError(t, repo.Close())

	repo, err = OpenSQLiteRepository(ctx, path)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	got, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, KindProject, got.Kind)
}
