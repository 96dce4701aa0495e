package exchanger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDirectionNotFound means the direction is unknown or not enabled for the API.
	ErrDirectionNotFound = errors.New("exchanger: direction not found or not allowed for API")
	// ErrMethodNotSupported means the method is not enabled for the API key.
	ErrMethodNotSupported = errors.New("exchanger: method not enabled for this API key")
	// ErrBidNotFound means no bid exists for the given hash or id.
	ErrBidNotFound = errors.New("exchanger: bid not found")
	// ErrAPIDisabled means the API module is off or the credentials are wrong.
	ErrAPIDisabled = errors.New("exchanger: API disabled")
	// ErrEmptyResponse is returned for an empty response body.
	ErrEmptyResponse = errors.New("exchanger: empty response")
)

// APIError is a non-zero error envelope or a failed HTTP exchange.
type APIError struct {
	Method string
	Code   string
	Text   string
	Status int
	kind   error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("exchanger: ")
	b.WriteString(e.Method)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": code %s", e.Code)
	}
	if e.Text != "" {
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}

// Unwrap returns the sentinel matching the error text, if any.
func (e *APIError) Unwrap() error { return e.kind }

// HTTPStatus reports the HTTP status code, zero for envelope errors.
func (e *APIError) HTTPStatus() int { return e.Status }

// classify maps the error text of an envelope to a sentinel.
func classify(text string) error {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "direction not found"):
		return ErrDirectionNotFound
	case strings.Contains(t, "method not supported"):
		return ErrMethodNotSupported
	case strings.Contains(t, "no bid exists"):
		return ErrBidNotFound
	case strings.Contains(t, "api disabled"):
		return ErrAPIDisabled
	default:
		return nil
	}
}
