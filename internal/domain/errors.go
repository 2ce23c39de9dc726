package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrInvalidMarketID = errors.New("invalid market id")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrUnsupportedURI  = errors.New("unsupported metadata uri")
)
