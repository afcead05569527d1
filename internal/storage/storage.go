// Package storage provides the job workspace on local disk and publishing
// of finished tracks. It defines the Storage interface used by the
// pipeline and implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for job workspaces and publishing.
type Storage interface {
	// JobDir returns the workspace directory of a job, creating it if needed.
	// All files produced for the job live below it.
	JobDir(ctx context.Context, jobID string) (string, error)

	// Remove deletes the specified files. Missing files are ignored and
	// cleanup continues past failures.
	Remove(ctx context.Context, paths []string) error

	// RemoveJobDir deletes a job workspace and everything in it.
	RemoveJobDir(ctx context.Context, jobID string) error

	// Publish uploads data under key and returns its public URL.
	// Returns ErrPublishNotConfigured if no remote store is configured.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)
}
