package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies a per-bill failure
type ErrorKind string

const (
	KindInput    ErrorKind = "input"    // malformed or missing document; skipped this cycle
	KindFetch    ErrorKind = "fetch"    // bill feed unreachable
	KindStore    ErrorKind = "store"    // record store read or write failed
	KindDelivery ErrorKind = "delivery" // notifier rejected an alert
	KindTimeout  ErrorKind = "timeout"  // sweep deadline reached before the bill finished
	KindPanic    ErrorKind = "panic"
)

// BillError is a failure local to one bill. It never aborts a sweep.
type BillError struct {
	Kind   ErrorKind
	BillID string
	Err    error
}

func (e *BillError) Error() string {
	return fmt.Sprintf("bill %s: %s: %v", e.BillID, e.Kind, e.Err)
}

func (e *BillError) Unwrap() error {
	return e.Err
}

// MarshalJSON keeps the underlying error message in sweep reports
func (e *BillError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind   ErrorKind `json:"kind"`
		BillID string    `json:"bill_id"`
		Error  string    `json:"error"`
	}{e.Kind, e.BillID, msg})
}

func billError(ctx context.Context, kind ErrorKind, billID string, err error) *BillError {
	if ctx.Err() != nil && kind != KindDelivery {
		kind = KindTimeout
	}
	return &BillError{Kind: kind, BillID: billID, Err: err}
}

// KindOf returns the kind of a BillError, or an empty kind for other errors
func KindOf(err error) ErrorKind {
	var be *BillError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}
