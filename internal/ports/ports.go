package ports

import (
	"context"
	"time"

	"maisoku/internal/domain"
)

// CameraConfig describes how the camera device should be opened.
type CameraConfig struct {
	// Devices lists candidate device nodes in facing order; index 0 is the
	// default (rear) camera.
	Devices        []string
	CaptureTimeout time.Duration
}

// CameraHandle is a live binding to one camera device.
type CameraHandle interface {
	// Shoot captures a single encoded frame from the bound device.
	Shoot(ctx context.Context) ([]byte, error)
	// SwitchFacing toggles to the next configured device. A failed switch
	// leaves the existing binding usable.
	SwitchFacing() error
	// Device returns the currently bound device node.
	Device() string
	// Close releases the binding. Idempotent.
	Close() error
}

// CameraDevice opens camera bindings.
type CameraDevice interface {
	Open(ctx context.Context, cfg CameraConfig) (CameraHandle, error)
}

// GalleryPicker invokes the platform's image-selection surface.
// ok=false with a nil error means the user canceled the picker.
type GalleryPicker interface {
	Pick(ctx context.Context) (path string, ok bool, err error)
}

// IdentityProvider resolves the current user and their bearer credential.
// CurrentIdentity returns (nil, nil) for an anonymous caller. BearerToken is
// re-resolved per request and returns domain.ErrAuthenticationRequired when
// no non-expired credential can be obtained.
type IdentityProvider interface {
	CurrentIdentity(ctx context.Context) (*domain.Identity, error)
	BearerToken(ctx context.Context, identity *domain.Identity) (string, error)
}

// PreferenceStore loads and persists per-user analysis preferences.
// LoadProfile returns (nil, nil) when no profile exists; absence is valid.
type PreferenceStore interface {
	LoadProfile(ctx context.Context, userID string) (*domain.PreferenceProfile, error)
	SaveProfile(ctx context.Context, userID string, profile domain.PreferenceProfile) error
}

// AnalysisService submits a normalized image for remote analysis. Every
// failure is a *domain.RequestError or domain.ErrAuthenticationRequired.
type AnalysisService interface {
	Submit(ctx context.Context, image domain.NormalizedImage, profile *domain.PreferenceProfile, identity *domain.Identity) (domain.AnalysisResult, error)
}

// HistoryStore persists completed analyses for later retrieval.
type HistoryStore interface {
	Save(ctx context.Context, entry domain.HistoryEntry) (string, error)
	List(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
	Get(ctx context.Context, userID, id string) (*domain.HistoryEntry, error)
	Delete(ctx context.Context, userID, id string) error
}

// EventSink receives controller state changes and user-facing errors.
type EventSink interface {
	SessionStateChanged(snapshot domain.SessionSnapshot, reason domain.TransitionReason)
	SessionError(failure domain.Failure, detail string)
}

// TelemetrySink records request outcomes. Injected rather than global so the
// gateway carries no process-wide mutable state.
type TelemetrySink interface {
	RecordRequest(outcome string, status int, elapsed time.Duration)
}

// SpeechSynthesizer reads presenter output aloud.
type SpeechSynthesizer interface {
	Speak(ctx context.Context, text string) error
}
