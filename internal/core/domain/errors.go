package domain

import "errors"

var (
	ErrStreamNotFound    = errors.New("stream not found")
	ErrStreamExists      = errors.New("stream already exists")
	ErrSinkNotFound      = errors.New("sink not found")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInvalidCapacity   = errors.New("invalid capacity")
	ErrNotRunning        = errors.New("session not running")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrEngineFailure     = errors.New("engine failure")
	ErrSinkFailure       = errors.New("sink failure")
	ErrSinkDone          = errors.New("sink finished")
	ErrQueueFull         = errors.New("sink queue full")
	ErrOutputInUse       = errors.New("output already in use")
)
