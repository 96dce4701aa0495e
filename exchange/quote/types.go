// Package quote computes exchange amounts for a direction with debounced,
// last-request-wins recalculation.
package quote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for non-numeric or non-positive amounts.
	ErrInvalidAmount = errors.New("quote: invalid amount")
	// ErrInvalidPivot is returned for a pivot other than give or get.
	ErrInvalidPivot = errors.New("quote: invalid pivot")
	// ErrQuoteUnavailable wraps remote pricing failures.
	ErrQuoteUnavailable = errors.New("quote: quote unavailable")
	// ErrSuperseded is returned when a newer request replaced this one.
	ErrSuperseded = errors.New("quote: superseded by a newer request")
	// ErrAmountBelowMin is returned when the give amount is under the minimum.
	ErrAmountBelowMin = errors.New("quote: amount below minimum")
	// ErrAmountAboveMax is returned when the give amount exceeds the maximum.
	ErrAmountAboveMax = errors.New("quote: amount above maximum")
)

// Pivot names the side an entered amount refers to.
type Pivot string

const (
	PivotGive Pivot = "give"
	PivotGet  Pivot = "get"
)

// Valid reports whether p is give or get.
func (p Pivot) Valid() bool { return p == PivotGive || p == PivotGet }

// Opposite returns the other side.
func (p Pivot) Opposite() Pivot {
	if p == PivotGet {
		return PivotGive
	}
	return PivotGet
}

// Unlimited is the wire sentinel for an absent bound.
const Unlimited = "no"

// Limit is a numeric bound or the unbounded sentinel.
type Limit struct {
	Value     decimal.Decimal
	Unbounded bool
}

// ParseLimit parses a bound. "no", empty and non-numeric values are unbounded.
func ParseLimit(s string) Limit {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, Unlimited) {
		return Limit{Unbounded: true}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Limit{Unbounded: true}
	}
	return Limit{Value: v}
}

func (l Limit) String() string {
	if l.Unbounded {
		return Unlimited
	}
	return l.Value.String()
}

// Request identifies a quote computation.
type Request struct {
	DirectionID string
	Amount      decimal.Decimal
	Pivot       Pivot
}

// Quote is an immutable pricing snapshot.
type Quote struct {
	DirectionID string
	Pivot       Pivot
	Amount      decimal.Decimal

	SumGive        decimal.Decimal
	SumGiveWithFee decimal.Decimal
	SumGet         decimal.Decimal
	SumGetWithFee  decimal.Decimal
	GiveCurrency   string
	GetCurrency    string
	RateGive       decimal.Decimal
	RateGet        decimal.Decimal
	FeeGive        string
	FeeGet         string

	Reserve Limit
	MinGive Limit
	MaxGive Limit
	MinGet  Limit
	MaxGet  Limit

	// Changed is set when the server adjusted the requested amount.
	Changed bool
}

// GiveAmount returns the give-side amount the quote was computed for.
func (q Quote) GiveAmount() decimal.Decimal {
	if q.Pivot == PivotGive && !q.Changed {
		return q.Amount
	}
	return q.SumGive
}

// BoundError reports which bound a confirmed amount violated.
type BoundError struct {
	Err   error
	Bound decimal.Decimal
}

func (e *BoundError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Bound.String())
}

func (e *BoundError) Unwrap() error { return e.Err }

// Code is used by handler logs.
func (e *BoundError) Code() string {
	if errors.Is(e.Err, ErrAmountBelowMin) {
		return "AMOUNT_BELOW_MIN"
	}
	return "AMOUNT_ABOVE_MAX"
}

// ParseAmount parses user input. Surrounding and grouping spaces are ignored
// and a comma is accepted as the decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	v, err := decimal.NewFromString(s)
	if err != nil || v.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return v, nil
}

// Validate checks the give-side amount against the quote bounds.
// Unbounded limits always pass.
func Validate(q Quote, giveAmount decimal.Decimal) error {
	if !q.MinGive.Unbounded && giveAmount.LessThan(q.MinGive.Value) {
		return &BoundError{Err: ErrAmountBelowMin, Bound: q.MinGive.Value}
	}
	if !q.MaxGive.Unbounded && giveAmount.GreaterThan(q.MaxGive.Value) {
		return &BoundError{Err: ErrAmountAboveMax, Bound: q.MaxGive.Value}
	}
	return nil
}
