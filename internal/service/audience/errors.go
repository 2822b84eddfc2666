package audience

import "errors"

// Sentinel errors for the audience service layer.
var (
	ErrNotFound          = errors.New("audience not found")
	ErrInvalidInput      = errors.New("invalid audience input")
	ErrRemoteUnavailable = errors.New("ad platform not configured for audiences")
)
