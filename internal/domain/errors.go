package domain

import "errors"

var (
	ErrNotFound               = errors.New("payment not found")
	ErrInvalidTransition      = errors.New("invalid payment state transition")
	ErrUnauthorized           = errors.New("actor not authorized for this transition")
	ErrConcurrentModification = errors.New("payment was modified concurrently")
	ErrInvalidRate            = errors.New("commission rate out of range")
	ErrInvalidAmount          = errors.New("invalid monetary amount")
	ErrDuplicatePayment       = errors.New("a non-terminal payment already exists for this transaction")
	ErrReasonRequired         = errors.New("a reason is required for this transition")
	ErrValidation             = errors.New("invalid payment data")
)

// ErrorKind is the machine-readable classification surfaced to the admin UI.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrInvalidRate):
		return "invalid_rate"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate_payment"
	case errors.Is(err, ErrReasonRequired):
		return "reason_required"
	case errors.Is(err, ErrValidation):
		return "invalid_request"
	default:
		return "internal"
	}
}
