// Package errors holds the HTTP error payloads and the gin abort helpers the
// handlers answer with. Quota and rate-limit responses carry their own shape
// (QuotaError); everything else uses the generic APIError.
package errors

// APIError is the generic error body: a machine-readable message plus
// optional detail fields (e.g. the supported-formats list on a rejected
// upload).
type APIError struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError builds an APIError. details may be nil.
func NewAPIError(message string, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}
