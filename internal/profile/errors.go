package profile

import (
	"errors"
	"fmt"
)

// ErrUnauthorized means the bot token was rejected. Retrying does not help
// until the operator fixes the token.
var ErrUnauthorized = errors.New("profile: unauthorized")

// RateLimitedError is returned when the local limiter would block longer
// than the configured maximum wait.
type RateLimitedError struct {
	Seconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("profile: rate limited, retry in %ds", e.Seconds)
}

// BackoffError is a server-imposed wait (HTTP 429 retry_after) that has
// already been slept through.
type BackoffError struct {
	Seconds int
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("profile: flood wait %ds", e.Seconds)
}

// Transient reports whether err is a rate limit or backoff failure.
func Transient(err error) bool {
	var rl *RateLimitedError
	var bo *BackoffError
	return errors.As(err, &rl) || errors.As(err, &bo)
}
