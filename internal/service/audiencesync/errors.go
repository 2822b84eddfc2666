package audiencesync

import "errors"

// Sentinel errors for the audience sync service.
var (
	ErrAudienceNotFound = errors.New("audience not found")
	ErrNoExternalID     = errors.New("audience has no ad platform id")
)
