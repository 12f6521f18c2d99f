package apperrors

import "errors"

// Standardized Venue Errors
var (
	ErrUpstreamUnavailable  = errors.New("venue unavailable")
	ErrRateLimited          = errors.New("rate limit exceeded")
	ErrNoMarketData         = errors.New("no market data")
	ErrValidationRejected   = errors.New("validation rejected")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateIntent      = errors.New("duplicate intent")
	ErrAmbiguousNetwork     = errors.New("ambiguous network failure")
	ErrOrderNotFound        = errors.New("order not found")
	ErrAdNotFound           = errors.New("ad not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// IsRetryable reports whether a venue call that failed with err may be
// retried automatically. Ambiguous network failures are retryable because
// every placement call carries an idempotency token; the venue
// deduplicates a replayed request.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrAmbiguousNetwork):
		return true
	default:
		return false
	}
}
