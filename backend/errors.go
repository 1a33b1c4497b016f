// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is a structured error response from the backend
// service. Callers use errors.As to extract the code:
//
//	var serviceErr *backend.ServiceError
//	if errors.As(err, &serviceErr) {
//	    if serviceErr.Code == backend.ErrCodeThreadNotFound { ... }
//	}
type ServiceError struct {
	// Code is the backend error code (e.g. "THREAD_NOT_FOUND").
	Code string `json:"code"`
	// Message is the human-readable description from the service.
	Message string `json:"message"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("backend: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Backend error codes.
const (
	ErrCodeThreadNotFound   = "THREAD_NOT_FOUND"
	ErrCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	ErrCodeInvalidToken     = "INVALID_TOKEN"
	ErrCodeForbidden        = "FORBIDDEN"
)

// IsServiceError checks whether err is a *ServiceError with the given
// code.
func IsServiceError(err error, code string) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code == code
	}
	return false
}

// ErrUnavailable marks transient transport failures: connection
// refused, timeouts, cancellation, 5xx responses. Safe for the caller
// to retry with backoff; never retried at this layer.
var ErrUnavailable = errors.New("backend: service unavailable")

// IsUnavailable reports whether err represents a transient backend
// failure rather than a definitive rejection.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// transportError wraps a transport-level failure so it matches
// ErrUnavailable. Context expiry counts: a caller-imposed deadline on
// a backend call means the backend was unavailable within the time
// budget, not that the request was rejected.
func transportError(operation string, err error) error {
	return fmt.Errorf("backend: %s: %v: %w", operation, err, ErrUnavailable)
}
