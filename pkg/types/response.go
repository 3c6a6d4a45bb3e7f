package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error body. RequestID echoes X-Request-Id so callers
// can quote it; Retryable is set for dependency outages.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
