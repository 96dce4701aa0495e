package session

import (
	"errors"
	"fmt"

	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/fields"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
)

var (
	// ErrNotStarted is returned before the catalog was loaded.
	ErrNotStarted = errors.New("session: not started")
	// ErrNoQuote is returned when confirming without a quote for the current direction.
	ErrNoQuote = errors.New("session: no quote for the current direction")
	// ErrQuotePending is returned when confirming before the quote of the
	// latest amount edit arrived.
	ErrQuotePending = errors.New("session: quote recalculation pending")
	// ErrNoReverse is returned by Swap when the reverse direction does not exist.
	ErrNoReverse = errors.New("session: reverse direction not available")
	// ErrUnknownCurrency is returned for a label that is not in the catalog.
	ErrUnknownCurrency = errors.New("session: unknown currency")
	// ErrNoForm is returned by SubmitFields before BeginFields.
	ErrNoForm = errors.New("session: fields form not started")
)

// Failure is a recoverable network or service failure surfaced to the user.
type Failure struct {
	Op     string
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("session: %s: %s", f.Op, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// Code classifies the failure for presentation.
func (f *Failure) Code() string {
	switch {
	case errors.Is(f.Err, catalog.ErrCatalogUnavailable):
		return "catalog_unavailable"
	case errors.Is(f.Err, quote.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(f.Err, fields.ErrFieldsUnavailable):
		return "fields_unavailable"
	case errors.Is(f.Err, order.ErrOrderCreationFailed):
		return "order_creation_failed"
	default:
		return "service_error"
	}
}

// failureFrom wraps err as a Failure. The reason is the innermost message.
func failureFrom(op string, err error) *Failure {
	reason := err.Error()
	for inner := err; inner != nil; {
		next := errors.Unwrap(inner)
		if next == nil {
			if multi, ok := inner.(interface{ Unwrap() []error }); ok {
				errs := multi.Unwrap()
				if len(errs) > 0 {
					next = errs[len(errs)-1]
				}
			}
		}
		if next == nil {
			reason = inner.Error()
			break
		}
		inner = next
	}
	return &Failure{Op: op, Reason: reason, Err: err}
}

// IsFatal reports whether err blocks the session until Reload.
func IsFatal(err error) bool { return errors.Is(err, catalog.ErrEmptyCatalog) }
