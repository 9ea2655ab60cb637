package auth

import "errors"

// Common errors returned by the auth package.
var (
	ErrEmptyKey      = errors.New("api key is empty")
	ErrNoSecret      = errors.New("secret material unavailable")
	ErrBadSecretSize = errors.New("secret material is not 32 bytes")
)
