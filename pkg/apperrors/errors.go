package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrAlreadyRunning       = errors.New("sync already running")
	ErrNotRegistered        = errors.New("schema not registered")
	ErrAlreadyRegistered    = errors.New("schema already registered")
	ErrInvalidTransition    = errors.New("invalid sync state transition")
	ErrSyncFailure          = errors.New("sync failed")
	ErrTransportUnavailable = errors.New("change notification transport unavailable")
	ErrInvalidEmbedding     = errors.New("invalid embedding")
	ErrInvalidArgument      = errors.New("invalid argument")
)
