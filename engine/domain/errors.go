package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying run failures.
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrProvider            = errors.New("provider error")
	ErrClassificationParse = errors.New("classification parse error")
	ErrDelivery            = errors.New("delivery error")
	ErrNotification        = errors.New("notification error")
	ErrConflict            = errors.New("run already in progress")
	ErrUnknownSource       = errors.New("unknown source")
)

// StageError wraps a sentinel with the stage that produced it.
type StageError struct {
	Stage   string
	Kind    error
	Wrapped error
}

func (e *StageError) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Wrapped)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Wrapped}
}

// NewStageError creates a StageError.
func NewStageError(stage string, kind, wrapped error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Wrapped: wrapped}
}

// ConflictError is returned when a run is requested while another is active.
type ConflictError struct {
	SessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (session %s)", ErrConflict, e.SessionID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// UnknownSourceError lists the requested source ids that do not exist.
type UnknownSourceError struct {
	IDs []string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnknownSource, e.IDs)
}

func (e *UnknownSourceError) Unwrap() error { return ErrUnknownSource }
