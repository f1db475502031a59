package session

import (
	"errors"
	"fmt"
)

// Initialization stages.
const (
	StageCamera = "camera"
	StageModel  = "model"
)

// ErrNoClassifier is reported when a poll finds no loaded model.
var ErrNoClassifier = errors.New("session: model not loaded")

// InitializationError is fatal to a session: the polling loop never starts.
type InitializationError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed (%s): %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *InitializationError) Unwrap() error {
	return e.Err
}
