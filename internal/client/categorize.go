package client

import (
	"context"
	"errors"
)

// ErrorCategory is a stable label for error classification in logs and metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCanceled    ErrorCategory = "canceled"
	ErrorCategoryUpstream    ErrorCategory = "upstream_error"
	ErrorCategoryDecode      ErrorCategory = "decode"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, ErrUpstreamDecode):
		return ErrorCategoryDecode
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	default:
		return ErrorCategoryUnknown
	}
}
