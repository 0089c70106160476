package pipeline

import "fmt"

// ModelError carries the model id a failing call was addressed to, so API
// handlers can report which model misbehaved.
type ModelError struct {
	ModelID string
}

func (e *ModelError) SetModelID(modelID string) { e.ModelID = modelID }

// modelIDSetter lets WithModelID attach the id to any pipeline error.
type modelIDSetter interface {
	SetModelID(modelID string)
}

// WithModelID attaches modelID to err when err is a pipeline error.
func WithModelID(err error, modelID string) error {
	if setter, ok := err.(modelIDSetter); ok {
		setter.SetModelID(modelID)
	}
	return err
}

// KeyNotFoundError: the organization has no API key on record.
type KeyNotFoundError struct{ ModelError }

func (e *KeyNotFoundError) Error() string { return "api key not found for organization" }

// NoDefaultModelIDError: the caller has no organization to resolve a default
// model id from.
type NoDefaultModelIDError struct{ ModelError }

func (e *NoDefaultModelIDError) Error() string { return "no default model id available" }

// ModelIDNotFoundError: resolution ran out of candidates.
type ModelIDNotFoundError struct{ ModelError }

func (e *ModelIDNotFoundError) Error() string { return "model id not found" }

// TokenError: the identity provider refused to mint an access token.
type TokenError struct {
	ModelError
	Err error
}

func (e *TokenError) Error() string { return fmt.Sprintf("failed to obtain access token: %v", e.Err) }
func (e *TokenError) Unwrap() error { return e.Err }

// ModelTimeoutError: the model did not answer within the task timeout.
type ModelTimeoutError struct{ ModelError }

func (e *ModelTimeoutError) Error() string { return "model request timed out" }

// InvalidModelIDError: the service rejected the model id.
type InvalidModelIDError struct{ ModelError }

func (e *InvalidModelIDError) Error() string { return "invalid model id" }

// EmptyResponseError: the service answered with no content.
type EmptyResponseError struct{ ModelError }

func (e *EmptyResponseError) Error() string { return "empty response from model service" }

// ValidationError: the service could not process the request payload.
type ValidationError struct {
	ModelError
	Detail string
}

func (e *ValidationError) Error() string { return "request failed validation: " + e.Detail }

// BadRequestError: the service rejected the request as malformed.
type BadRequestError struct {
	ModelError
	Detail string
}

func (e *BadRequestError) Error() string { return "bad request: " + e.Detail }

// RequestIDCorrelationError: the response's request id does not match the
// one sent, so the response cannot be trusted.
type RequestIDCorrelationError struct {
	ModelError
	ReceivedID string
}

func (e *RequestIDCorrelationError) Error() string {
	return "request id correlation failed, received " + e.ReceivedID
}

// InferenceError: terminal inference failure not covered by a more specific
// error.
type InferenceError struct {
	ModelError
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("inference failed: %v", e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// ContentMatchError: terminal content match failure.
type ContentMatchError struct {
	ModelError
	Err error
}

func (e *ContentMatchError) Error() string { return fmt.Sprintf("content match failed: %v", e.Err) }
func (e *ContentMatchError) Unwrap() error { return e.Err }
