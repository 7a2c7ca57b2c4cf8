package core

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// UnknownProviderError indicates the requested name has no registered
// constructor. The message carries the name as the caller supplied it.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %s", e.Name)
}

// NoPrimaryProviderError indicates no aiProvider.primary binding is
// configured. Callers should treat this as a configuration problem, not a
// transient fault.
type NoPrimaryProviderError struct{}

func (e *NoPrimaryProviderError) Error() string {
	return "no primary AI provider configured (set aiProvider.primary)"
}

// ErrorType classifies API errors for HTTP translation.
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider failure (5xx)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates an upstream rate limit (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication failure (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a missing resource (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
)

// APIError is the error type for vendor HTTP failures and request
// validation problems that the server layer translates to responses.
type APIError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Err holds the underlying error for debugging, never serialized.
	Err error `json:"-"`
}

func (e *APIError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the transport status for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error into the wire error envelope.
func (e *APIError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewProviderError creates an upstream provider error.
func NewProviderError(provider string, statusCode int, message string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewInvalidRequestError creates a client error (400).
func NewInvalidRequestError(message string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, message string) *APIError {
	return &APIError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNotFoundError creates a not-found error (404).
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// ParseVendorError builds an APIError from a vendor HTTP error response.
// It extracts the message from the common {"error":{"message":...}} shape,
// falling back to a flat {"error": "..."} or the raw body.
func ParseVendorError(provider string, statusCode int, body []byte) *APIError {
	message := fmt.Sprintf("provider returned status %d", statusCode)
	if json.Valid(body) {
		if m := gjson.GetBytes(body, "error.message"); m.Exists() && m.String() != "" {
			message = m.String()
		} else if m := gjson.GetBytes(body, "error"); m.Type == gjson.String && m.String() != "" {
			message = m.String()
		} else if m := gjson.GetBytes(body, "message"); m.Exists() && m.String() != "" {
			message = m.String()
		}
	} else if len(body) > 0 && len(body) < 512 {
		message = string(body)
	}

	errType := ErrorTypeProvider
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case statusCode == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case statusCode == http.StatusNotFound:
		errType = ErrorTypeNotFound
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return &APIError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
	}
}
