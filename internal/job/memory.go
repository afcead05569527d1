package job

import (
	"context"
	"slices"
	"sync"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps job snapshots in process memory. It lists jobs in
// the same order as SQLiteRepository so the service behaves the same on
// either backend. Jobs are lost on restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // ids in first-save order, tie-break for equal CreatedAt
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*Job)}
}

// Save stores a snapshot of job, replacing the previous one.
func (r *MemoryRepository) Save(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := job.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[snapshot.ID]; !ok {
		r.order = append(r.order, snapshot.ID)
	}
	r.jobs[snapshot.ID] = snapshot
	return nil
}

// FindByID returns a snapshot of the stored job.
func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns snapshots of every job, oldest first.
func (r *MemoryRepository) List(ctx context.Context) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	result := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.jobs[id].Clone())
	}
	r.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b *Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result, nil
}

// Delete removes a job.
func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return nil
}
