// Package core provides fundamental tensor types and interfaces for the probe framework.
package core

import "errors"

// Sentinel errors for evaluation operations.
var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrUnknownModel       = errors.New("unknown model type")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrStateMismatch      = errors.New("encoder state mismatch")
	ErrEmptySplit         = errors.New("dataset split is empty")
)

// StateError carries parameter-level context when strict state loading fails.
type StateError struct {
	Param   string
	Message string
}

func (e *StateError) Error() string {
	return e.Param + ": " + e.Message
}

func (e *StateError) Unwrap() error { return ErrStateMismatch }
