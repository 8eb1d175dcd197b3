// Package types holds the wire envelopes shared by every HTTP handler.
package types

// SuccessEnvelope wraps every 2xx body under a "data" key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a failed request. Code is one of the
// stable machine-readable codes; Message may carry handler-specific text
// when the code permits it. Retryable tells clients whether backing off
// and resending the same request can succeed.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorEnvelope wraps every non-2xx body under an "error" key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
