package service

import "errors"

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrAPIKeyInactive = errors.New("api key is inactive")
	ErrAPIKeyExpired  = errors.New("api key has expired")
	ErrInvalidScope   = errors.New("invalid scope")
	ErrInvalidLimit   = errors.New("rate limit must be positive")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserExists         = errors.New("user with this email already exists")
	ErrInvalidRole        = errors.New("invalid role")
)
