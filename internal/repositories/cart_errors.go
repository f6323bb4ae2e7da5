package repositories

import "fmt"

// CartErrorCode enumerates repository error causes for cart documents.
type CartErrorCode string

const (
	// CartErrorNotFound indicates the cart document does not exist.
	CartErrorNotFound CartErrorCode = "cart_not_found"
	// CartErrorInvalidDocument indicates the stored cart could not be decoded.
	CartErrorInvalidDocument CartErrorCode = "cart_invalid_document"
	// CartErrorStale indicates the cart changed after it was read.
	CartErrorStale CartErrorCode = "cart_stale"
)

// CartError wraps cart-specific failures with machine readable codes.
type CartError struct {
	Op      string
	Code    CartErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*CartError)(nil)

// Error implements the error interface.
func (e *CartError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CartError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the cart is missing.
func (e *CartError) IsNotFound() bool { return e != nil && e.Code == CartErrorNotFound }

// IsConflict reports whether the cart changed concurrently.
func (e *CartError) IsConflict() bool { return e != nil && e.Code == CartErrorStale }

// IsUnavailable is always false; decoding problems are not transient.
func (e *CartError) IsUnavailable() bool { return false }

// NewCartError constructs a typed cart error.
func NewCartError(op string, code CartErrorCode, message string, err error) *CartError {
	if message == "" {
		message = string(code)
		if err != nil {
			message = err.Error()
		}
	}
	return &CartError{Op: op, Code: code, Message: message, Err: err}
}
