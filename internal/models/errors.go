package models

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failure")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrDuplicateActive       = errors.New("active record already exists")
	ErrNoActiveParticipation = errors.New("no active participation found")
	ErrEventStarted          = errors.New("event has already started")
)
