package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fatal turn outcomes.
var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrProvidersExhausted   = errors.New("all model providers failed")
	ErrToolNotFound         = errors.New("tool not found")
)

// QuotaError is returned when the session guard denies a turn. The guard's
// own counter increment stands even on deny.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s", e.Reason)
}

// IsQuotaError reports whether err is a guard denial.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
