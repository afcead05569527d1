// Package id provides unique identifier generation for jobs and units.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-6f1c2b0e-8a8d-4a53-9f6e-2f7a3c1d9b10
func Generate() string {
	return "job-" + uuid.NewString()
}

// Unit returns the ID of the unit at index within a job. Unit IDs are
// derived so that re-planning a job yields the same IDs for the same slots.
func Unit(jobID string, index int) string {
	return fmt.Sprintf("%s-u%03d", jobID, index)
}

// Request creates a request correlation ID.
func Request() string {
	return uuid.NewString()
}
