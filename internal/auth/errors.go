package auth

import "errors"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrRateLimited  = errors.New("too many failed attempts")
)
