package client

import (
	"context"
	"errors"
	"strings"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryUpstream      ErrorCategory = "upstream"
	ErrorCategoryExtraction    ErrorCategory = "extraction"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics and responses.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, models.ErrConfiguration) {
		return ErrorCategoryConfiguration
	}
	if errors.Is(err, models.ErrExtraction) {
		return ErrorCategoryExtraction
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, models.ErrUpstream) {
		return ErrorCategoryUpstream
	}
	if strings.Contains(errStr, "invalid") || strings.Contains(errStr, "validation") {
		return ErrorCategoryValidation
	}
	return ErrorCategoryUnknown
}
