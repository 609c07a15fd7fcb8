package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrKeyRequired is returned when an operation is called without a key.
	ErrKeyRequired = errors.New("key parameter required")

	// ErrInvalidTokens is returned when a confirmation carries a non-positive token count.
	ErrInvalidTokens = errors.New("valid tokens count required")

	// ErrCredentialNotFound is returned when no pool entry matches a key.
	ErrCredentialNotFound = errors.New("key not found")
)

// ExhaustedError is returned by selection when no credential is eligible.
type ExhaustedError struct {
	NextResetTime time.Time
	RetryAfter    int64
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all credentials exhausted or rate limited (retry after %ds)", e.RetryAfter)
}

// RetryAfterDuration converts the retry estimate into a duration.
func (e *ExhaustedError) RetryAfterDuration() time.Duration {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(e.RetryAfter) * time.Second
}
