package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrTransient   = errors.New("transient failure")
	ErrPermanent   = errors.New("permanent failure")
	ErrMalformed   = errors.New("malformed response")
	ErrCancelled   = errors.New("cancelled")
	ErrLockHeld    = errors.New("lock already held")
	ErrInvalidID   = errors.New("invalid asset id")
)
