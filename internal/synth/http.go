package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Static errors for the HTTP synthesizer.
var (
	// ErrEndpointRequired is returned when no base URL is configured.
	ErrEndpointRequired = errors.New("synth: endpoint is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("synth: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("synth: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("synth: request failed")
)

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  Voice  `json:"voice"`
	Format string `json:"format"`
}

type synthesizeResponse struct {
	AudioBase64     string  `json:"audio_base64"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// Compile-time check that HTTPSynthesizer implements Synthesizer.
var _ Synthesizer = (*HTTPSynthesizer)(nil)

// HTTPSynthesizer calls a remote TTS service:
//
//	POST {endpoint}/synthesize {"text", "voice", "format"}
//	-> {"audio_base64", "duration_seconds", "error"}
type HTTPSynthesizer struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	prober      DurationProber
	maxRetries  int
	baseBackoff time.Duration
}

// HTTPOption configures an HTTPSynthesizer.
type HTTPOption func(*HTTPSynthesizer)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSynthesizer) {
		s.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSynthesizer) {
		s.httpClient = c
	}
}

// WithProber sets the prober used when the service reports no duration.
func WithProber(p DurationProber) HTTPOption {
	return func(s *HTTPSynthesizer) {
		s.prober = p
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) HTTPOption {
	return func(s *HTTPSynthesizer) {
		s.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) HTTPOption {
	return func(s *HTTPSynthesizer) {
		s.baseBackoff = d
	}
}

// NewHTTPSynthesizer creates a synthesizer for the service at endpoint.
func NewHTTPSynthesizer(endpoint string, opts ...HTTPOption) (*HTTPSynthesizer, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	s := &HTTPSynthesizer{
		endpoint:    strings.TrimRight(endpoint, "/"),
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Synthesize requests audio for req.Text and writes it to req.OutputPath.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:   req.Text,
		Voice:  req.Voice,
		Format: strings.TrimPrefix(filepath.Ext(req.OutputPath), "."),
	})
	if err != nil {
		return Result{}, fmt.Errorf("synth: marshal request: %w", err)
	}

	var resp synthesizeResponse
	if err := s.doRequestWithRetry(ctx, s.endpoint+"/synthesize", body, &resp); err != nil {
		return Result{}, err
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error)
	}
	if resp.AudioBase64 == "" {
		return Result{}, ErrNoAudio
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("synth: decode audio: %w", err)
	}
	if err := writeFile(req.OutputPath, audio); err != nil {
		return Result{}, err
	}

	duration := resp.DurationSeconds
	if duration <= 0 {
		if s.prober == nil {
			return Result{}, ErrNoDuration
		}
		if duration, err = s.prober.ProbeDuration(ctx, req.OutputPath); err != nil {
			return Result{}, fmt.Errorf("synth: probe duration: %w", err)
		}
	}

	return Result{Path: req.OutputPath, Duration: duration}, nil
}

// doRequestWithRetry performs the POST with exponential backoff retry.
func (s *HTTPSynthesizer) doRequestWithRetry(ctx context.Context, url string, body []byte, result any) error {
	var lastErr error
	backoff := s.baseBackoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("synth: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := s.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("synth: max retries exceeded: %w", lastErr)
}

func (s *HTTPSynthesizer) doRequest(ctx context.Context, url string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("synth: create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("synth: request cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("synth: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("synth: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("synth: unmarshal response: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("synth: create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("synth: write audio: %w", err)
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
