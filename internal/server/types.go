// Package server provides the HTTP server for the voicetrack API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"strings"
	"time"

	"github.com/maauso/voicetrack/internal/audio"
	"github.com/maauso/voicetrack/internal/job"
	"github.com/maauso/voicetrack/internal/synth"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// Kind is chapter, project or full_transcript. Defaults to chapter.
	Kind string `json:"kind" validate:"omitempty,oneof=chapter project full_transcript"`
	// Text is the transcript or manuscript.
	Text string `json:"text"`
	// Translated is the text to narrate when it differs from Text.
	Translated string `json:"translated"`
	// Segments are timed slots of narrated text.
	Segments []SegmentRequest `json:"segments" validate:"omitempty,dive"`
	// VoiceName selects a voice from the catalog.
	VoiceName string        `json:"voice_name"`
	Voice     *VoiceRequest `json:"voice" validate:"omitempty"`
	// SpokenIntro and SpokenOutro are narrated before and after the text.
	SpokenIntro string `json:"spoken_intro"`
	SpokenOutro string `json:"spoken_outro"`
	// TargetDuration fits the voice track to this length, as "323" or "5:23".
	TargetDuration string      `json:"target_duration"`
	Mix            *MixRequest `json:"mix" validate:"omitempty"`
	// PauseBetween is the silence in seconds between units.
	PauseBetween *float64 `json:"pause_between" validate:"omitempty,gte=0,lte=10"`
	// PushToS3 indicates whether to upload the final track to S3.
	PushToS3 bool `json:"push_to_s3"`
	// AutoStart starts production as soon as the job has text to narrate.
	// Defaults to true.
	AutoStart *bool `json:"auto_start"`
}

// SegmentRequest is one timed slot.
type SegmentRequest struct {
	Text string `json:"text" validate:"required"`
	// Duration is the slot length in seconds.
	Duration float64 `json:"duration" validate:"gte=0"`
}

// VoiceRequest overrides fields of the default voice.
type VoiceRequest struct {
	Provider string  `json:"provider"`
	VoiceID  string  `json:"voice_id"`
	Gender   string  `json:"gender" validate:"omitempty,oneof=male female neutral"`
	Style    string  `json:"style"`
	Speed    float64 `json:"speed" validate:"omitempty,gte=0.25,lte=4"`
}

// MixRequest layers intro and outro music over the voice.
type MixRequest struct {
	IntroPath     string  `json:"intro_path"`
	OutroPath     string  `json:"outro_path"`
	OutroUseIntro bool    `json:"outro_use_intro"`
	IntroFade     float64 `json:"intro_fade" validate:"gte=0,lte=60"`
	OutroFade     float64 `json:"outro_fade" validate:"gte=0,lte=60"`
	OutroExtend   float64 `json:"outro_extend" validate:"gte=0,lte=120"`
}

// TextRequest is the body of the transcript and translation endpoints.
type TextRequest struct {
	Text string `json:"text" validate:"required"`
}

// ResetRequest is the body of the reset endpoint.
type ResetRequest struct {
	// To defaults to SYNTHESIZING.
	To string `json:"to" validate:"omitempty,oneof=NEW TRANSCRIBED TRANSLATED SYNTHESIZING"`
}

// CreateJobResponse is the HTTP response after creating a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the job status after creation.
	Status string `json:"status"`
	// Started reports whether production was started in the background.
	Started bool `json:"started"`
}

// UnitResponse describes one synthesized unit.
type UnitResponse struct {
	Index          int     `json:"index"`
	Status         string  `json:"status"`
	Text           string  `json:"text"`
	Duration       float64 `json:"duration,omitempty"`
	TargetDuration float64 `json:"target_duration,omitempty"`
	Aligned        bool    `json:"aligned,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress       int            `json:"progress"`
	Error          string         `json:"error,omitempty"`
	Units          []UnitResponse `json:"units,omitempty"`
	FinalAudioPath string         `json:"final_audio_path,omitempty"`
	// FinalURL is the S3 URL of the final track (if push_to_s3=true and completed).
	FinalURL      string    `json:"final_url,omitempty"`
	TotalDuration float64   `json:"total_duration,omitempty"`
	VoiceDuration float64   `json:"voice_duration,omitempty"`
	TempoRatio    float64   `json:"tempo_ratio,omitempty"`
	MixError      string    `json:"mix_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobListResponse is the HTTP response for listing jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// toCreateInput maps the request onto the service input. voice is the
// catalog voice already resolved from VoiceName, if any.
func (r CreateJobRequest) toCreateInput(voice *synth.Voice) (job.CreateInput, error) {
	var target float64
	if strings.TrimSpace(r.TargetDuration) != "" {
		var err error
		if target, err = audio.ParseClock(r.TargetDuration); err != nil {
			return job.CreateInput{}, err
		}
	}

	input := job.CreateInput{
		Kind:           job.Kind(r.Kind),
		Text:           r.Text,
		Translated:     r.Translated,
		SpokenIntro:    r.SpokenIntro,
		SpokenOutro:    r.SpokenOutro,
		TargetDuration: target,
		PauseBetween:   r.PauseBetween,
		PushToS3:       r.PushToS3,
		Voice:          voice,
	}
	for _, s := range r.Segments {
		input.Segments = append(input.Segments, job.TimedSegment{Text: s.Text, Duration: s.Duration})
	}
	if r.Voice != nil {
		v := synth.Voice{
			Provider: r.Voice.Provider,
			VoiceID:  r.Voice.VoiceID,
			Gender:   r.Voice.Gender,
			Style:    r.Voice.Style,
			Speed:    r.Voice.Speed,
		}
		if voice != nil {
			v = job.MergeVoice(*voice, v)
		}
		input.Voice = &v
	}
	if r.Mix != nil {
		mix := audio.MixSpec{
			OutroUseIntro: r.Mix.OutroUseIntro,
			IntroFade:     r.Mix.IntroFade,
			OutroFade:     r.Mix.OutroFade,
			OutroExtend:   r.Mix.OutroExtend,
		}
		if r.Mix.IntroPath != "" {
			mix.Intro = &audio.Asset{Path: r.Mix.IntroPath}
		}
		if r.Mix.OutroPath != "" {
			mix.Outro = &audio.Asset{Path: r.Mix.OutroPath}
		}
		input.Mix = &mix
	}
	return input, nil
}

// autoStart reports whether production should start right after creation.
func (r CreateJobRequest) autoStart() bool {
	return r.AutoStart == nil || *r.AutoStart
}

// newJobResponse converts a domain job into its HTTP representation.
func newJobResponse(j *job.Job) JobResponse {
	c := j.Clone()
	resp := JobResponse{
		ID:             c.ID,
		Kind:           string(c.Kind),
		Status:         string(c.Status),
		Progress:       c.Progress,
		Error:          c.Error,
		FinalAudioPath: c.FinalAudioPath,
		FinalURL:       c.FinalURL,
		TotalDuration:  c.TotalDuration,
		VoiceDuration:  c.VoiceDuration,
		MixError:       c.MixError,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.Alignment != nil {
		resp.TempoRatio = c.Alignment.TempoRatio
	}
	for _, u := range c.Units {
		resp.Units = append(resp.Units, UnitResponse{
			Index:          u.Index,
			Status:         string(u.Status),
			Text:           u.SourceText,
			Duration:       u.Duration,
			TargetDuration: u.TargetDuration,
			Aligned:        u.Aligned,
			Error:          u.Error,
		})
	}
	return resp
}
