package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repositoryContract runs the behaviour every Repository must share.
func repositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("save and find", func(t *testing.T) {
		job := New(KindChapter)
		require.NoError(t, repo.Save(ctx, job))

		saved, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, saved.ID)
		assert.Equal(t, StatusNew, saved.Status)
	})

	t.Run("save updates", func(t *testing.T) {
		job := New(KindChapter)
		require.NoError(t, repo.Save(ctx, job))

		require.NoError(t, job.Transcribe("text"))
		job.Units = []Unit{{ID: "u0", Index: 0, SourceText: "text", Status: UnitCompleted, FilePath: "a.mp3", Duration: 1.5}}
		require.NoError(t, repo.Save(ctx, job))

		saved, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusTranscribed, saved.Status)
		require.Len(t, saved.Units, 1)
		assert.Equal(t, 1.5, saved.Units[0].Duration)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nonexistent")
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "nonexistent"), ErrJobNotFound)
	})

	t.Run("returns copies", func(t *testing.T) {
		job := New(KindChapter)
		require.NoError(t, repo.Save(ctx, job))

		job.Error = "mutated after save"
		found, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, found.Error)

		found.Error = "mutated after find"
		again, err := repo.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, again.Error)
	})

	t.Run("list and delete", func(t *testing.T) {
		job := New(KindProject)
		require.NoError(t, repo.Save(ctx, job))

		jobs, err := repo.List(ctx)
		require.NoError(t, err)
		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		assert.Contains(t, ids, job.ID)

		require.NoError(t, repo.Delete(ctx, job.ID))
		_, err = repo.FindByID(ctx, job.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("list oldest first", func(t *testing.T) {
		base := time.Now().Truncate(time.Second).Add(time.Hour)
		older, newer := New(KindChapter), New(KindChapter)
		older.CreatedAt = base
		newer.CreatedAt = base.Add(time.Hour)
		require.NoError(t, repo.Save(ctx, newer))
		require.NoError(t, repo.Save(ctx, older))

		jobs, err := repo.List(ctx)
		require.NoError(t, err)
		pos := map[string]int{}
		for i, j := range jobs {
			pos[j.ID] = i
		}
		assert.Less(t, pos[older.ID], pos[newer.ID])
	})
}

func TestMemoryRepository(t *testing.T) {
	repositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := New(KindChapter)
			_ = repo.Save(ctx, job)
			_, _ = repo.FindByID(ctx, job.ID)
			_, _ = repo.List(ctx)
		}()
	}
	wg.Wait()

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 20)
}

func TestMemoryRepository_Cancelled(t *testing.T) {
	repo := NewMemoryRepository()
	job := New(KindChapter)
	require.NoError(t, repo.Save(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, repo.Save(ctx, New(KindChapter)), context.Canceled)
	_, err := repo.FindByID(ctx, job.ID)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = repo.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, repo.Delete(ctx, job.ID), context.Canceled)
}

func TestMemoryRepository_DeleteKeepsOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	ids := make([]string, 3)
	for i := range ids {
		job := New(KindProject)
		job.CreatedAt = base
		ids[i] = job.ID
		require.NoError(t, repo.Save(ctx, job))
	}
	require.NoError(t, repo.Delete(ctx, ids[1]))

	jobs, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[0], jobs[0].ID, "equal timestamps keep save order")
	assert.Equal(t, ids[2], jobs[1].ID)
}
