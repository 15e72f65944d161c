package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthenticationRequired marks a missing or unobtainable credential. The
// controller routes it to login without attempting the network call.
var ErrAuthenticationRequired = errors.New("authentication required")

// HardwareReason classifies camera binding failures.
type HardwareReason string

const (
	HardwareUnavailable      HardwareReason = "unavailable"
	HardwarePermissionDenied HardwareReason = "permission_denied"
	HardwareBusy             HardwareReason = "busy"
)

// HardwareError reports a camera binding failure. Always recoverable by
// falling back to gallery selection; never terminates the session.
type HardwareError struct {
	Reason HardwareReason
	Detail string
}

func (e *HardwareError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("camera %s", e.Reason)
	}
	return fmt.Sprintf("camera %s: %s", e.Reason, e.Detail)
}

// CaptureKind classifies image capture/normalization failures.
type CaptureKind string

const (
	CaptureCorrupt           CaptureKind = "corrupt"
	CaptureEmpty             CaptureKind = "empty"
	CaptureUnsupportedFormat CaptureKind = "unsupported_format"
	CaptureTooLarge          CaptureKind = "too_large"
)

// CaptureError reports a recoverable capture failure; the image is discarded
// and the user returns to photo selection.
type CaptureError struct {
	Kind   CaptureKind
	Detail string
}

func (e *CaptureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("capture failed: %s", e.Kind)
	}
	return fmt.Sprintf("capture failed: %s: %s", e.Kind, e.Detail)
}

// RequestKind classifies analysis request outcomes.
type RequestKind string

const (
	RequestNetworkUnreachable RequestKind = "network_unreachable"
	RequestTimeout            RequestKind = "timeout"
	RequestServerError        RequestKind = "server_error"
	RequestClientError        RequestKind = "client_error"
	RequestMalformedResponse  RequestKind = "malformed_response"
)

// RequestError is the only failure shape the gateway surfaces; raw transport
// errors never escape it.
type RequestError struct {
	Kind    RequestKind
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("analysis request: %s (%d): %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("analysis request: %s (%d)", e.Kind, e.Status)
	case e.Message != "":
		return fmt.Sprintf("analysis request: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("analysis request: %s", e.Kind)
}

// Retryable reports whether re-submitting the same request may succeed.
// Server errors, timeouts, and 429 qualify; other client errors do not.
func (e *RequestError) Retryable() bool {
	switch e.Kind {
	case RequestServerError, RequestTimeout, RequestNetworkUnreachable:
		return true
	case RequestClientError:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// StateViolationError indicates a caller defect: an action dispatched in a
// state that does not accept it. Logged, never shown to the user.
type StateViolationError struct {
	State  SessionState
	Action Action
}

func (e *StateViolationError) Error() string {
	return fmt.Sprintf("action %s not valid in state %s", e.Action, e.State)
}

// Describe maps a typed error onto a one-line, user-presentable failure.
// Raw transport and stack details stay out of the message.
func Describe(err error) *Failure {
	if err == nil {
		return nil
	}

	var hwErr *HardwareError
	if errors.As(err, &hwErr) {
		msg := "Camera is unavailable. You can still pick a photo from the gallery."
		if hwErr.Reason == HardwarePermissionDenied {
			msg = "Camera permission was denied. You can still pick a photo from the gallery."
		}
		return &Failure{Code: "hardware_" + string(hwErr.Reason), Message: msg}
	}

	var capErr *CaptureError
	if errors.As(err, &capErr) {
		msg := "That image could not be used. Please try another photo."
		if capErr.Kind == CaptureTooLarge {
			msg = "That image is too large. Please choose a smaller photo."
		}
		return &Failure{Code: "capture_" + string(capErr.Kind), Message: msg}
	}

	if errors.Is(err, ErrAuthenticationRequired) {
		return &Failure{Code: "authentication_required", Message: "Please sign in to analyze photos."}
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		msg := "Analysis failed. Please try again."
		switch reqErr.Kind {
		case RequestNetworkUnreachable:
			msg = "Could not reach the analysis service. Check your connection."
		case RequestTimeout:
			msg = "Analysis took too long and was stopped. Please try again."
		case RequestClientError:
			if reqErr.Status == http.StatusTooManyRequests {
				msg = "The analysis service is busy. Please wait a moment and retry."
			} else {
				msg = "The analysis request was rejected."
			}
		case RequestServerError:
			msg = "The analysis service had a problem. Please try again shortly."
		}
		return &Failure{
			Code:      "request_" + string(reqErr.Kind),
			Message:   msg,
			Retryable: reqErr.Retryable(),
		}
	}

	return &Failure{Code: "internal", Message: "Something went wrong. Please try again."}
}
