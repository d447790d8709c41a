package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionTimeout  = errors.New("signaling connection timeout")
	ErrLinkFailure        = errors.New("signaling link failure")
	ErrLinkClosed         = errors.New("signaling link closed")
	ErrCapabilityMismatch = errors.New("capability mismatch")
	ErrSignalingRequest   = errors.New("signaling request rejected")
	ErrConsumerCreation   = errors.New("consumer creation failed")
	ErrStartInProgress    = errors.New("session start already in progress")
	ErrSessionActive      = errors.New("session is active")
	ErrInvalidRoom        = errors.New("invalid room")
	ErrDeviceNotLoaded    = errors.New("device not loaded")
	ErrDeviceLoaded       = errors.New("device already loaded")
	ErrTransportClosed    = errors.New("transport closed")
	ErrConsumerClosed     = errors.New("consumer closed")
)

// SignalingError is returned when the server answers a request with ok=false.
type SignalingError struct {
	Method string
	Code   int
	Reason string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("%s: %s [method:%s, code:%d]", ErrSignalingRequest, e.Reason, e.Method, e.Code)
}

func (e *SignalingError) Unwrap() error {
	return ErrSignalingRequest
}

// FailureReason returns a short, stable label for a start failure.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConnectionTimeout):
		return "timeout"
	case errors.Is(err, ErrLinkFailure), errors.Is(err, ErrLinkClosed):
		return "link"
	case errors.Is(err, ErrCapabilityMismatch):
		return "capability"
	case errors.Is(err, ErrSignalingRequest):
		return "signaling"
	case errors.Is(err, ErrStartInProgress):
		return "in_progress"
	case errors.Is(err, ErrInvalidRoom):
		return "invalid"
	default:
		return "other"
	}
}
