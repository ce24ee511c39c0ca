package mayasync

import (
	"errors"

	"bitbucket.org/mmdatafocus/marketsync_backend/mayamall"
)

// RetryPolicy governs how an operation failure is classified.
type RetryPolicy struct {
	// RetryUnknown treats failures with no parseable upstream status
	// (timeouts, malformed responses) as retryable. Off by default so
	// configuration mistakes surface instead of retrying forever.
	RetryUnknown bool
	// ExtraRetryable lists provider-specific "temporarily unavailable"
	// codes outside the standard 5xx range.
	ExtraRetryable []int
}

// Retryable reports whether the failure is transient. Pure function over the
// error chain; no I/O.
func Retryable(err error, policy RetryPolicy) bool {
	if err == nil {
		return false
	}

	var apiErr *mayamall.APIError
	if !errors.As(err, &apiErr) {
		// Not an upstream failure at all (store error, marshal error).
		return false
	}

	status := apiErr.StatusCode
	if status == 0 {
		// Transport-level: no parseable status.
		return policy.RetryUnknown
	}

	switch {
	case status == 429:
		return true
	case status == 401 || status == 403:
		// Credential/authorization problems do not self-heal.
		return false
	case status >= 500 && status < 600:
		return true
	}

	for _, code := range policy.ExtraRetryable {
		if status == code {
			return true
		}
	}
	return false
}
