package service

import "errors"

// ErrValidation is returned for bad submission input. Never retried.
var ErrValidation = errors.New("capture: invalid submission")

// ErrNotFound is returned when a task or session does not exist.
var ErrNotFound = errors.New("capture: record not found")

// ErrInvalidState is returned when an operation is not legal in the record's
// current state.
var ErrInvalidState = errors.New("capture: invalid state for operation")

// ErrConflict is returned when a reprocessing attempt for the session is
// already in flight.
var ErrConflict = errors.New("capture: reprocessing already in progress")

// ErrLaunch is returned when the capture routine could not be started.
var ErrLaunch = errors.New("capture: failed to launch capture routine")
