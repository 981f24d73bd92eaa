package domain

import "errors"

var (
	ErrMissingToken           = errors.New("missing token")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrNetwork                = errors.New("network error")
	ErrMalformedResponse      = errors.New("malformed response")
	ErrUnexpectedStatus       = errors.New("unexpected status code")
)
