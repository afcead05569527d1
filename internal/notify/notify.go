// Package notify publishes job status changes to interested parties.
package notify

import (
	"context"
	"time"
)

// Event is a job status change.
type Event struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	Error          string    `json:"error,omitempty"`
	FinalAudioPath string    `json:"final_audio_path,omitempty"`
	FinalURL       string    `json:"final_url,omitempty"`
	At             time.Time `json:"at"`
}

// Notifier delivers events. Delivery failures are returned but never
// affect the job that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Compile-time check that Nop implements Notifier.
var _ Notifier = Nop{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
