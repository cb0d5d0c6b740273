// Package failure defines the result-style errors returned by the fetch,
// persistence and delivery stages of the news pipeline.
//
// A stage never panics past its boundary; it returns a *Error that the
// pipeline inspects with Is/As and logs.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies where a failure originated.
type Kind string

const (
	KindFetch       Kind = "fetch"
	KindPersistence Kind = "persistence"
	KindDelivery    Kind = "delivery"
	KindConfig      Kind = "config"
)

// Error is a classified failure. Op names the operation that failed
// (e.g. "fetch.decode", "dedup.flush").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind (and Op when the target sets one), so
// callers can write errors.Is(err, failure.Fetch("", nil)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

func New(kind Kind, op string, err error) *Error { return &Error{Kind: kind, Op: op, Err: err} }

func Fetch(op string, err error) *Error       { return New(KindFetch, op, err) }
func Persistence(op string, err error) *Error { return New(KindPersistence, op, err) }
func Delivery(op string, err error) *Error    { return New(KindDelivery, op, err) }
func Config(op string, err error) *Error      { return New(KindConfig, op, err) }

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
