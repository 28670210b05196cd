package service

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("permission denied")
	ErrWriteFailed     = errors.New("stream write failed")
	ErrInvalidRequest  = errors.New("invalid request")
)
