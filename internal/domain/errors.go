package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidCostInput     = errors.New("invalid cost input")
	ErrInvalidWeights       = errors.New("invalid score weights")
	ErrBelowFloor           = errors.New("price below floor")
	ErrInvalidListing       = errors.New("invalid competitor listing")
	ErrOutOfOrderListing    = errors.New("competitor observation older than last seen")
	ErrDuplicateOutcome     = errors.New("duplicate outcome event")
	ErrExperimentNotRunning = errors.New("experiment not running")
	ErrLockHeld             = errors.New("lock already held")
)
