package quota

import (
	"errors"
	"fmt"

	"github.com/mailcoach-ai/mailcoach/internal/settings"
)

// ErrQuotaExhausted matches every QuotaExhaustedError via errors.Is.
var ErrQuotaExhausted = errors.New("quota: monthly limit reached")

// QuotaExhaustedError reports a free account that has used its whole allowance.
type QuotaExhaustedError struct {
	Limit int
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota: monthly limit of %d reached", e.Limit)
}

// Code returns the machine-readable error code sent to clients.
func (e *QuotaExhaustedError) Code() string {
	return settings.LimitReachedCode
}

// Is lets errors.Is(err, ErrQuotaExhausted) match.
func (e *QuotaExhaustedError) Is(target error) bool {
	return target == ErrQuotaExhausted
}
