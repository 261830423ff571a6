package domain

import "errors"

// Result is the uniform outcome returned by domain services.
type Result[T any] struct {
	IsSuccess bool              `json:"isSuccess"`
	Message   string            `json:"message,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Data      T                 `json:"data,omitempty"`

	// Offline is set when the mutation was queued instead of sent
	Offline  bool   `json:"offline,omitempty"`
	ActionID string `json:"actionId,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded[T any](data T, message string) Result[T] {
	return Result[T]{IsSuccess: true, Data: data, Message: message}
}

// Queued builds a successful result for a deferred mutation.
func Queued[T any](data T, actionID, message string) Result[T] {
	return Result[T]{IsSuccess: true, Data: data, Message: message, Offline: true, ActionID: actionID}
}

// Failed builds a failed result from err, keeping field errors from the backend.
func Failed[T any](err error) Result[T] {
	res := Result[T]{Message: err.Error()}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			res.Message = apiErr.Message
		}
		res.Errors = apiErr.Errors
	} else if IsNetworkError(err) {
		res.Message = "unable to reach the server, please try again"
	}
	return res
}

// Invalid builds a failed result for client-side validation.
func Invalid[T any](errs map[string]string) Result[T] {
	return Result[T]{Message: "validation failed", Errors: errs}
}
