package contract

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrCredentialMissing   = errors.New("credential is required for the requested toolkit set")
	ErrAuthorizationFailed = errors.New("tool authorization failed")
	ErrModelInvoke         = errors.New("model invoke failed")
	ErrValidation          = errors.New("validation failed")
)
