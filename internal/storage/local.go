package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPublishNotConfigured is returned when publishing without a remote store.
	ErrPublishNotConfigured = errors.New("publishing is not configured")
	// ErrInvalidJobID is returned for IDs that would escape the workspace.
	ErrInvalidJobID = errors.New("invalid job id")
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements the Storage interface using local disk.
// Job workspaces live under <root>/jobs/<job-id>. It cannot publish
// unless wrapped with S3Storage.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance rooted at dir.
// If dir is empty, a voicetrack directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "voicetrack")
	}

	if err := os.MkdirAll(filepath.Join(dir, "jobs"), 0750); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}

	return &LocalStorage{root: dir}, nil
}

// Root returns the workspace root path.
func (s *LocalStorage) Root() string {
	return s.root
}

// JobDir returns <root>/jobs/<jobID>, creating it if needed.
func (s *LocalStorage) JobDir(ctx context.Context, jobID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir, err := s.jobPath(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create job directory: %w", err)
	}
	return dir, nil
}

// Remove deletes the specified files, returning the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// RemoveJobDir deletes the workspace of a job.
func (s *LocalStorage) RemoveJobDir(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir, err := s.jobPath(jobID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove job directory: %w", err)
	}
	return nil
}

// Publish is not supported by LocalStorage and returns ErrPublishNotConfigured.
func (s *LocalStorage) Publish(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrPublishNotConfigured
}

func (s *LocalStorage) jobPath(jobID string) (string, error) {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return filepath.Join(s.root, "jobs", jobID), nil
}
