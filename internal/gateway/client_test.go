package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"maisoku/internal/domain"
)

type staticIdentity struct {
	token string
	err   error
}

func (s staticIdentity) CurrentIdentity(context.Context) (*domain.Identity, error) {
	return &domain.Identity{UserID: "user-1"}, nil
}

func (s staticIdentity) BearerToken(context.Context, *domain.Identity) (string, error) {
	return s.token, s.err
}

type recordingTelemetry struct {
	mu       sync.Mutex
	outcomes []string
	statuses []int
}

func (r *recordingTelemetry) RecordRequest(outcome string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	r.statuses = append(r.statuses, status)
}

func (r *recordingTelemetry) last() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return "", 0
	}
	return r.outcomes[len(r.outcomes)-1], r.statuses[len(r.statuses)-1]
}

func testImage() domain.NormalizedImage {
	return domain.NormalizedImage{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg", Width: 4, Height: 4}
}

func requestKind(t *testing.T, err error) *domain.RequestError {
	t.Helper()
	var reqErr *domain.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	return reqErr
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody analysisRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/camera-analysis" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"analysis":        "**見出し**\n* 徒歩5分",
			"processing_time": 2.5,
			"is_personalized": true,
			"timestamp":       "2026-03-01T12:00:00.123456",
			"metadata":        map[string]any{"model": "v2"},
		})
	}))
	defer server.Close()

	telemetry := &recordingTelemetry{}
	client := NewClient(server.URL, staticIdentity{token: "tok-123"}, WithTelemetry(telemetry))

	profile := &domain.PreferenceProfile{TransportationPriority: 5}
	result, err := client.Submit(context.Background(), testImage(), profile, &domain.Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if gotAuth != "Bearer tok-123" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotBody.UserID != "user-1" {
		t.Fatalf("unexpected user id %q", gotBody.UserID)
	}
	if gotBody.Preferences == nil || gotBody.Preferences.TransportationPriority != 5 {
		t.Fatalf("preferences not forwarded: %+v", gotBody.Preferences)
	}
	decoded, decodeErr := base64.StdEncoding.DecodeString(gotBody.Image)
	if decodeErr != nil || string(decoded) != "jpeg-bytes" {
		t.Fatalf("image not base64 of payload: %v", decodeErr)
	}

	if result.Analysis == "" || !result.IsPersonalized {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ProcessingTime != 2500*time.Millisecond {
		t.Fatalf("unexpected processing time %s", result.ProcessingTime)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	if !result.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %s", result.Timestamp)
	}

	if outcome, status := telemetry.last(); outcome != "success" || status != http.StatusOK {
		t.Fatalf("unexpected telemetry %s/%d", outcome, status)
	}
}

func TestSubmitOmitsEmptyPreferences(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, present := raw["preferences"]; present {
			t.Errorf("zero-value preferences must be omitted")
		}
		json.NewEncoder(w).Encode(map[string]any{"analysis": "ok", "processing_time": 0.1})
	}))
	defer server.Close()

	client := NewClient(server.URL, staticIdentity{token: "tok"})
	if _, err := client.Submit(context.Background(), testImage(), &domain.PreferenceProfile{}, &domain.Identity{UserID: "user-1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestSubmitAuthenticationFailsFast(t *testing.T) {
	t.Parallel()

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	client := NewClient(server.URL, staticIdentity{err: domain.ErrAuthenticationRequired})

	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})
	if !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	_, err = client.Submit(context.Background(), testImage(), nil, nil)
	if !errors.Is(err, domain.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired for nil identity, got %v", err)
	}
	if requests != 0 {
		t.Fatalf("no request may leave the process without a credential")
	}
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "分析サービスが一時的に利用できません", "error_type": "service_unavailable"})
	}))
	defer server.Close()

	client := NewClient(server.URL, staticIdentity{token: "tok"})
	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

	reqErr := requestKind(t, err)
	if reqErr.Kind != domain.RequestServerError || reqErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error %+v", reqErr)
	}
	if !reqErr.Retryable() {
		t.Fatalf("server errors must be retryable")
	}
	if reqErr.Message != "分析サービスが一時的に利用できません" {
		t.Fatalf("error body message lost: %q", reqErr.Message)
	}
}

func TestSubmitClientErrorIsNotRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "invalid image payload"})
	}))
	defer server.Close()

	client := NewClient(server.URL, staticIdentity{token: "tok"})
	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

	reqErr := requestKind(t, err)
	if reqErr.Kind != domain.RequestClientError {
		t.Fatalf("unexpected kind %s", reqErr.Kind)
	}
	if reqErr.Retryable() {
		t.Fatalf("client errors must not be retryable")
	}
	if reqErr.Message != "invalid image payload" {
		t.Fatalf("detail message lost: %q", reqErr.Message)
	}
}

func TestSubmitTooManyRequestsIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, staticIdentity{token: "tok"})
	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

	reqErr := requestKind(t, err)
	if reqErr.Kind != domain.RequestClientError {
		t.Fatalf("unexpected kind %s", reqErr.Kind)
	}
	if !reqErr.Retryable() {
		t.Fatalf("429 must be retryable")
	}
}

func TestSubmitTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, staticIdentity{token: "tok"}, WithTimeout(50*time.Millisecond))
	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

	reqErr := requestKind(t, err)
	if reqErr.Kind != domain.RequestTimeout {
		t.Fatalf("unexpected kind %s", reqErr.Kind)
	}
	if !reqErr.Retryable() {
		t.Fatalf("timeouts must be retryable")
	}
}

func TestSubmitNetworkUnreachable(t *testing.T) {
	t.Parallel()

	// A closed server yields a connection refusal.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, staticIdentity{token: "tok"})
	_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

	reqErr := requestKind(t, err)
	if reqErr.Kind != domain.RequestNetworkUnreachable {
		t.Fatalf("unexpected kind %s", reqErr.Kind)
	}
	if !reqErr.Retryable() {
		t.Fatalf("network failures must be retryable")
	}
}

func TestSubmitMalformedResponse(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":         "<html>proxy error</html>",
		"missing analysis": `{"processing_time": 1.0}`,
		"empty analysis":   `{"analysis": "   "}`,
	}

	for name, body := range cases {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			client := NewClient(server.URL, staticIdentity{token: "tok"})
			_, err := client.Submit(context.Background(), testImage(), nil, &domain.Identity{UserID: "user-1"})

			reqErr := requestKind(t, err)
			if reqErr.Kind != domain.RequestMalformedResponse {
				t.Fatalf("unexpected kind %s", reqErr.Kind)
			}
			if reqErr.Retryable() {
				t.Fatalf("malformed responses must not be retryable")
			}
		})
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Time{
		"2026-03-01T12:00:00Z":        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		"2026-03-01T12:00:00.5+09:00": time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.FixedZone("", 9*3600)),
		"2026-03-01T12:00:00.123456":  time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC),
		"2026-03-01T12:00:00":         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for value, want := range cases {
		if got := parseTimestamp(value); !got.Equal(want) {
			t.Fatalf("parseTimestamp(%q) = %s, want %s", value, got, want)
		}
	}

	// Unparseable values fall back to the current time rather than zero.
	if parseTimestamp("garbage").IsZero() {
		t.Fatalf("fallback timestamp must not be zero")
	}
}
