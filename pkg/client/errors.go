package client

import "errors"

var (
	// ErrStopped reports an operation on a stopped client.
	ErrStopped = errors.New("client: stopped")
	// ErrNoLaunch reports an item or log operation before StartLaunch.
	ErrNoLaunch = errors.New("client: no launch started")
)

// UsageError marks a programming defect in how the client is driven, such
// as finishing an item without a matching start. It is never retryable.
type UsageError struct {
	Op  string
	Err error
}

func (e *UsageError) Error() string { return "client: " + e.Op + ": " + e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

func usageErr(op string, err error) *UsageError { return &UsageError{Op: op, Err: err} }
