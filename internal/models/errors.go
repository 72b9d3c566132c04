package models

import "errors"

// Error taxonomy shared by clients, services and the HTTP layer.
// Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrConfiguration is returned when a required credential is absent. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrUpstream is returned when the weather provider is unreachable or reports failure.
	ErrUpstream = errors.New("upstream error")
	// ErrExtraction is returned when a forecast payload lacks the expected nesting.
	ErrExtraction = errors.New("extraction error")
	// ErrAdvisoryTransport marks a failed or non-2xx LLM call. Retried within the attempt budget.
	ErrAdvisoryTransport = errors.New("advisory transport error")
	// ErrAdvisoryParse marks an LLM response without usable text. Not retried.
	ErrAdvisoryParse = errors.New("advisory parse error")
)
