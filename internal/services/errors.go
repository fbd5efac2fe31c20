package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/adlaunch/backend/internal/services/platforms"
)

var (
	ErrMetaNotConnected = errors.New("meta not connected")
	ErrMissingCallback  = errors.New("missing code or state")
	ErrInvalidState     = errors.New("invalid or expired oauth state")
	ErrCampaignNotFound = errors.New("campaign not found")
)

// ValidationError is a caller mistake; Message is safe to return as-is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// LaunchError reports a launch that reached the remote platform and failed.
// The draft row has already been moved to status=error.
type LaunchError struct {
	CampaignID uuid.UUID
	Details    string
	Err        error
}

func (e *LaunchError) Error() string {
	return "launch failed: " + e.Details
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// errorDetails serializes an upstream failure: the remote body when there is one,
// otherwise the error text.
func errorDetails(err error) string {
	var gerr *platforms.GraphError
	if errors.As(err, &gerr) && len(gerr.Body) > 0 {
		details := gerr.Details()
		if text, ok := details.(string); ok {
			return text
		}
		if data, mErr := json.Marshal(details); mErr == nil {
			return string(data)
		}
		return string(gerr.Body)
	}
	return err.Error()
}
