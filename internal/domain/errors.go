package domain

import "errors"

// Validation failures raised by constructors and mutators. Callers wrap
// them with context; test with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidQuarter       = errors.New("invalid quarter")
	ErrInvalidCapacity      = errors.New("invalid capacity")
	ErrInvalidBuffer        = errors.New("invalid buffer")
	ErrAdjustmentOutOfRange = errors.New("adjustment out of range")
	ErrInvalidProgress      = errors.New("invalid progress")
	ErrInvalidEstimate      = errors.New("invalid estimate")
	ErrInvalidPhase         = errors.New("invalid phase")
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrSelfDependency       = errors.New("feature cannot depend on itself")
	ErrDependencyCycle      = errors.New("dependency cycle")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrAlreadyTerminal      = errors.New("already in terminal state")
	ErrTierConflict         = errors.New("epic in more than one commitment tier")
	ErrConflict             = errors.New("conflict")
)
