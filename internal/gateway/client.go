package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"maisoku/internal/domain"
	"maisoku/internal/ports"
)

const (
	analysisPath = "/api/camera-analysis"

	// Analysis calls run large-model inference; the timeout is well above
	// normal round-trips but still bounded.
	defaultRequestTimeout = 90 * time.Second
)

// Client submits normalized images to the remote analysis endpoint. It maps
// every outcome onto domain.RequestError kinds and never retries internally:
// re-submitting costs inference time, so retry policy belongs to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	identity   ports.IdentityProvider
	telemetry  ports.TelemetrySink
	logger     *slog.Logger
}

// Option customizes the analysis client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithTelemetry injects a sink for request outcome metrics.
func WithTelemetry(sink ports.TelemetrySink) Option {
	return func(c *Client) {
		if sink != nil {
			c.telemetry = sink
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs an analysis API client.
func NewClient(baseURL string, identity ports.IdentityProvider, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		timeout:    defaultRequestTimeout,
		identity:   identity,
		telemetry:  nopTelemetry{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type analysisRequest struct {
	Image       string                    `json:"image"`
	Preferences *domain.PreferenceProfile `json:"preferences,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
}

type analysisResponse struct {
	Analysis       string         `json:"analysis"`
	ProcessingTime float64        `json:"processing_time"`
	IsPersonalized bool           `json:"is_personalized"`
	Timestamp      string         `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	ErrorType     string `json:"error_type"`
	DebugInfo     string `json:"debug_info,omitempty"`
	OriginalError string `json:"original_error,omitempty"`
	// FastAPI-style error bodies carry the message under "detail".
	Detail string `json:"detail,omitempty"`
}

// Submit posts the image and optional preference profile for analysis. It
// fails fast with domain.ErrAuthenticationRequired when no non-expired
// bearer credential can be obtained.
func (c *Client) Submit(ctx context.Context, image domain.NormalizedImage, profile *domain.PreferenceProfile, identity *domain.Identity) (domain.AnalysisResult, error) {
	var empty domain.AnalysisResult

	if identity == nil {
		return empty, domain.ErrAuthenticationRequired
	}
	token, err := c.identity.BearerToken(ctx, identity)
	if err != nil {
		return empty, domain.ErrAuthenticationRequired
	}

	payload := analysisRequest{
		Image:  image.Base64(),
		UserID: identity.UserID,
	}
	if profile != nil && !profile.IsZero() {
		payload.Preferences = profile
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return empty, &domain.RequestError{Kind: domain.RequestMalformedResponse, Message: fmt.Sprintf("encode request: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+analysisPath, bytes.NewReader(encoded))
	if err != nil {
		return empty, &domain.RequestError{Kind: domain.RequestNetworkUnreachable, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		reqErr := classifyTransport(err)
		c.telemetry.RecordRequest(string(reqErr.Kind), 0, time.Since(started))
		c.logger.Warn("analysis request failed", "kind", reqErr.Kind, "error", err)
		return empty, reqErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(started)
	if err != nil {
		c.telemetry.RecordRequest(string(domain.RequestMalformedResponse), resp.StatusCode, elapsed)
		return empty, &domain.RequestError{Kind: domain.RequestMalformedResponse, Status: resp.StatusCode, Message: "read response body"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := classifyStatus(resp.StatusCode, body)
		c.telemetry.RecordRequest(string(reqErr.Kind), resp.StatusCode, elapsed)
		c.logger.Warn("analysis request rejected", "status", resp.StatusCode, "kind", reqErr.Kind)
		return empty, reqErr
	}

	var parsed analysisResponse
	if err := json.Unmarshal(body, &parsed); err != nil || strings.TrimSpace(parsed.Analysis) == "" {
		c.telemetry.RecordRequest(string(domain.RequestMalformedResponse), resp.StatusCode, elapsed)
		return empty, &domain.RequestError{Kind: domain.RequestMalformedResponse, Status: resp.StatusCode, Message: "analysis payload missing"}
	}

	c.telemetry.RecordRequest("success", resp.StatusCode, elapsed)
	c.logger.Info("analysis completed", "status", resp.StatusCode, "elapsed", elapsed)

	return domain.AnalysisResult{
		Analysis:       parsed.Analysis,
		ProcessingTime: time.Duration(parsed.ProcessingTime * float64(time.Second)),
		IsPersonalized: parsed.IsPersonalized,
		Timestamp:      parseTimestamp(parsed.Timestamp),
		Metadata:       parsed.Metadata,
	}, nil
}

func classifyTransport(err error) *domain.RequestError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.RequestError{Kind: domain.RequestTimeout, Message: "analysis request deadline exceeded"}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &domain.RequestError{Kind: domain.RequestTimeout, Message: "analysis request timed out"}
	}
	return &domain.RequestError{Kind: domain.RequestNetworkUnreachable, Message: err.Error()}
}

func classifyStatus(status int, body []byte) *domain.RequestError {
	message := extractErrorMessage(body)
	kind := domain.RequestClientError
	if status >= 500 {
		kind = domain.RequestServerError
	}
	return &domain.RequestError{Kind: kind, Status: status, Message: message}
}

func extractErrorMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg := strings.TrimSpace(parsed.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(parsed.Detail); msg != "" {
			return msg
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}

func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

type nopTelemetry struct{}

func (nopTelemetry) RecordRequest(string, int, time.Duration) {}
