package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidation, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewConflictError creates a conflict error
func NewConflictError(resource, message string) *AppError {
	return New(ErrCodeConflict, message).
		WithContext("resource", resource).
		WithUserMessage(message)
}

// NewSessionLimitError signals the per-team session cap was hit.
func NewSessionLimitError(teamID string, max int) *AppError {
	return New(ErrCodeLimitExceeded, fmt.Sprintf("Session limit exceeded: team already has %d sessions", max)).
		WithContext("team_id", teamID).
		WithContext("max_sessions", max).
		WithUserMessage("Session limit exceeded")
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return New(ErrCodeLimitExceeded, "rate limit exceeded").
		WithContext("limit", limit).
		WithContext("window", window).
		WithUserMessage("Too many requests, please try again later")
}

// NewUnauthorizedError creates an authentication/authorization error
func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, "unauthorized").
		WithContext("reason", reason).
		WithUserMessage("Authentication failed")
}

// NewSessionDisconnectedError signals the driver is not ready for an
// operation that requires connectivity.
func NewSessionDisconnectedError(sessionID string) *AppError {
	return New(ErrCodeSessionDisconnected, "session is not connected").
		WithContext("session_id", sessionID).
		WithUserMessage("WhatsApp session is not connected")
}

// NewStorageError wraps a downstream storage failure; retryable by default
// so callers behind the retry layer pick it up.
func NewStorageError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStorageFailure, fmt.Sprintf("storage %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}

// NewInternalError wraps an unclassified driver or adapter failure.
func NewInternalError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, fmt.Sprintf("%s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("An internal error occurred")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeSessionDisconnected:
		return http.StatusServiceUnavailable
	case ErrCodeStorageFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the error half of the API envelope.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := err.(*AppError); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			// Only include non-sensitive context in HTTP responses
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				if k != "password" && k != "token" && k != "secret" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternal
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
