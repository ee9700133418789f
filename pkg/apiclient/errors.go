package apiclient

import (
	"encoding/json"
	"fmt"

	merrs "github.com/marmos91/dittonn/pkg/metadata/errors"
)

// APIError represents an error response from the API whose code is not one
// of the metadata error codes.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Path       string `json:"path,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.Code == merrs.ErrNotFound.String()
}

// decodeError turns an error response into an error. A known metadata
// error code is rebuilt as a *errors.StoreError, so callers on the
// secondary can test it with the errors package helpers exactly as if the
// primary were in-process.
func decodeError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "" {
		return &APIError{StatusCode: status, Message: string(body)}
	}
	apiErr.StatusCode = status

	if code := merrs.ParseCode(apiErr.Code); code != 0 {
		return &merrs.StoreError{Code: code, Message: apiErr.Message, Path: apiErr.Path}
	}
	return &apiErr
}
