package domain

import "errors"

// Stores and services return these, optionally wrapped. Callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrMalformedFix      = errors.New("malformed position fix")
	ErrOutOfOrder        = errors.New("out of order position fix")
	ErrRateLimited       = errors.New("position fix rate limit exceeded")
	ErrInvalidGantry     = errors.New("invalid gantry")
	ErrEngineClosed      = errors.New("settlement engine closed")
)
