package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/voicetrack/internal/config"
	"github.com/maauso/voicetrack/internal/job"
	"github.com/maauso/voicetrack/internal/synth"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.PipelineService
	voices             *config.VoiceCatalog
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateJob never starts production and the produce and
// retry endpoints run the pipeline within the request.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithVoiceCatalog sets the voices listed by GET /voices and selectable by name.
func WithVoiceCatalog(c *config.VoiceCatalog) HandlerOption {
	return func(h *Handlers) {
		if c != nil {
			h.voices = c
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.PipelineService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		voices:             &config.VoiceCatalog{},
		validator:          validator.New(validator.WithRequiredStructEnabled()),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListVoices handles GET /voices requests.
func (h *Handlers) ListVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.voices)
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	var voice *synth.Voice
	if req.VoiceName != "" {
		v, err := h.voices.Resolve(req.VoiceName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_VOICE")
			return
		}
		voice = &v
	}

	input, err := req.toCreateInput(voice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target_duration: "+err.Error(), "INVALID_DURATION")
		return
	}

	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err, "", "JOB_CREATION_FAILED")
		return
	}

	started := false
	if h.enableAsyncProcess && req.autoStart() && createdJob.GetStatus() == job.StatusTranslated {
		// Production outlives the request; StartProduce detaches the context.
		if err := h.service.StartProduce(r.Context(), createdJob.ID); err != nil {
			h.logger.Error("failed to start production",
				slog.String("job_id", createdJob.ID),
				slog.String("error", err.Error()),
			)
		} else {
			started = true
		}
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("kind", string(createdJob.Kind)),
		slog.Bool("started", started),
	)

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:      createdJob.ID,
		Status:  string(createdJob.GetStatus()),
		Started: started,
	})
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "", "JOB_FETCH_FAILED")
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID, "JOB_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(foundJob))
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, jobID, "JOB_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordTranscript handles POST /jobs/{id}/transcript requests.
func (h *Handlers) RecordTranscript(w http.ResponseWriter, r *http.Request) {
	h.recordText(w, r, h.service.RecordTranscript)
}

// RecordTranslation handles POST /jobs/{id}/translation requests.
func (h *Handlers) RecordTranslation(w http.ResponseWriter, r *http.Request) {
	h.recordText(w, r, h.service.RecordTranslation)
}

func (h *Handlers) recordText(w http.ResponseWriter, r *http.Request, record func(ctx context.Context, jobID, text string) (*job.Job, error)) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TextRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	updated, err := record(r.Context(), jobID, req.Text)
	if err != nil {
		h.writeServiceError(w, err, jobID, "JOB_UPDATE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(updated))
}

// Produce handles POST /jobs/{id}/produce requests.
func (h *Handlers) Produce(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, producible, h.service.StartProduce, h.service.Produce)
}

// Retry handles POST /jobs/{id}/retry requests.
func (h *Handlers) Retry(w http.ResponseWriter, r *http.Request) {
	h.runStage(w, r, func(s job.Status) bool { return s == job.StatusError }, h.service.StartRetry, h.service.RetryFailed)
}

func (h *Handlers) runStage(
	w http.ResponseWriter,
	r *http.Request,
	allowed func(job.Status) bool,
	start func(ctx context.Context, jobID string) error,
	run func(ctx context.Context, jobID string) (*job.Job, error),
) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	current, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID, "JOB_FETCH_FAILED")
		return
	}
	if status := current.GetStatus(); !allowed(status) {
		writeError(w, http.StatusConflict, "job cannot run from status "+string(status), "INVALID_TRANSITION")
		return
	}

	if h.enableAsyncProcess {
		if err := start(r.Context(), jobID); err != nil {
			h.writeServiceError(w, err, jobID, "JOB_START_FAILED")
			return
		}
		writeJSON(w, http.StatusAccepted, newJobResponse(current))
		return
	}

	finished, err := run(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID, "PRODUCTION_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(finished))
}

// Reset handles POST /jobs/{id}/reset requests.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ResetRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	target := job.StatusSynthesizing
	if req.To != "" {
		target = job.Status(req.To)
	}

	updated, err := h.service.Reset(r.Context(), jobID, target)
	if err != nil {
		h.writeServiceError(w, err, jobID, "JOB_RESET_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(updated))
}

// decode reads and validates a JSON body. An empty body is accepted when
// optional is set.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			h.logger.Warn("failed to decode request body",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return false
		}
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, jobID, fallbackCode string) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobBusy):
		writeError(w, http.StatusConflict, err.Error(), "JOB_BUSY")
	case errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, job.ErrUnitsIncomplete),
		errors.Is(err, job.ErrNoFinalAudio):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, job.ErrInvalidResetTarget),
		errors.Is(err, job.ErrEmptyText),
		errors.As(err, &validationErrs):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error(), fallbackCode)
	}
}

// producible reports whether a job in status has text to narrate.
func producible(status job.Status) bool {
	return status != job.StatusNew && status != job.StatusTranscribed
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	return jobID, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
