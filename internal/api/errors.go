package api

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized matches any *Error with status 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden matches any *Error with status 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound matches any *Error with status 404.
	ErrNotFound = errors.New("not found")
)

// Error is a 4xx/5xx answer from the backend.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// IsValidation reports whether the backend rejected the request payload.
func (e *Error) IsValidation() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
}

// NetworkError means the request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return "network error"
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError is raised before any network call when input is incomplete,
// or when the backend rejects a payload as invalid.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// StatusText converts err into the line shown to the user.
func StatusText(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Error()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Detail
	}
	return err.Error()
}
