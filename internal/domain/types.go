package domain

import (
	"encoding/base64"
	"time"
)

// SessionState models the analyze-a-property-photo lifecycle.
type SessionState string

const (
	StateAuthCheck     SessionState = "auth_check"
	StateLoginRequired SessionState = "login_required"
	StateInitial       SessionState = "initial"
	StatePhotoChoice   SessionState = "photo_choice"
	StateCapturing     SessionState = "capturing"
	StateAnalyzing     SessionState = "analyzing"
	StateResults       SessionState = "results"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s SessionState) Valid() bool {
	switch s {
	case StateAuthCheck, StateLoginRequired, StateInitial,
		StatePhotoChoice, StateCapturing, StateAnalyzing, StateResults:
		return true
	}
	return false
}

// Action identifies a user intent dispatched into the session controller.
type Action string

const (
	ActionShowPhotoChoice    Action = "show_photo_choice"
	ActionStartCameraCapture Action = "start_camera_capture"
	ActionPickFromGallery    Action = "pick_from_gallery"
	ActionTakePicture        Action = "take_picture"
	ActionSwitchCamera       Action = "switch_camera"
	ActionBackToPhotoChoice  Action = "back_to_photo_choice"
	ActionCancelAnalysis     Action = "cancel_analysis"
	ActionResetAnalysis      Action = "reset_analysis"
	ActionReanalyze          Action = "reanalyze"
	ActionNavigateToLogin    Action = "navigate_to_login"
)

// TransitionReason provides a structured reason for state change notifications.
type TransitionReason string

const (
	ReasonIdentityResolved    TransitionReason = "identity_resolved"
	ReasonLoginRequired       TransitionReason = "login_required"
	ReasonPhotoChoiceOpened   TransitionReason = "photo_choice_opened"
	ReasonCameraAcquired      TransitionReason = "camera_acquired"
	ReasonCameraUnavailable   TransitionReason = "camera_unavailable"
	ReasonImageSelected       TransitionReason = "image_selected"
	ReasonPickCanceled        TransitionReason = "pick_canceled"
	ReasonCaptureFailed       TransitionReason = "capture_failed"
	ReasonCaptureAbandoned    TransitionReason = "capture_abandoned"
	ReasonAnalysisCompleted   TransitionReason = "analysis_completed"
	ReasonAnalysisFailed      TransitionReason = "analysis_failed"
	ReasonAnalysisCanceled    TransitionReason = "analysis_canceled"
	ReasonSessionReset        TransitionReason = "session_reset"
	ReasonReanalysisRequested TransitionReason = "reanalysis_requested"
)

// Identity references an authenticated user. A nil *Identity means anonymous.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

// PreferenceProfile mirrors the analysis API's preferences object.
type PreferenceProfile struct {
	TransportationPriority int      `json:"transportation_priority"`
	FacilitiesPriority     int      `json:"facilities_priority"`
	LifestylePriority      int      `json:"lifestyle_priority"`
	BudgetPriority         int      `json:"budget_priority"`
	SpecificFacilities     []string `json:"specific_facilities,omitempty"`
	TransportationTypes    []string `json:"transportation_types,omitempty"`
}

// IsZero reports whether no preference has been expressed.
func (p PreferenceProfile) IsZero() bool {
	return p.TransportationPriority == 0 &&
		p.FacilitiesPriority == 0 &&
		p.LifestylePriority == 0 &&
		p.BudgetPriority == 0 &&
		len(p.SpecificFacilities) == 0 &&
		len(p.TransportationTypes) == 0
}

// NormalizedImage is a capture reduced to a guaranteed-compatible,
// size-bounded encoding ready for network transmission.
type NormalizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	SourceRef   string
}

// Base64 returns the transmission encoding of the image payload.
func (i NormalizedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// AnalysisResult is the terminal artifact of a completed session.
type AnalysisResult struct {
	Analysis       string         `json:"analysis"`
	ProcessingTime time.Duration  `json:"processingTime"`
	IsPersonalized bool           `json:"isPersonalized"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// HistoryEntry is a persisted analysis result plus its originating image
// reference, retrievable after the session that produced it is gone.
type HistoryEntry struct {
	ID        string
	UserID    string
	Result    AnalysisResult
	ImageRef  string
	CreatedAt time.Time
}

// Failure summarizes a typed error for display: a one-line message, a stable
// code for telemetry, and whether offering a retry makes sense.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SessionSnapshot is a read-only view of the controller for UI/callers.
type SessionSnapshot struct {
	SessionID           string          `json:"sessionId"`
	State               SessionState    `json:"state"`
	Authenticated       bool            `json:"authenticated"`
	ProcessingImage     bool            `json:"processingImage"`
	HardwareUnavailable bool            `json:"hardwareUnavailable"`
	HasImage            bool            `json:"hasImage"`
	LastError           *Failure        `json:"lastError,omitempty"`
	Result              *AnalysisResult `json:"result,omitempty"`
}
