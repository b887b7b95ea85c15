package es

import (
	"errors"
	"fmt"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrIntegrity           = errors.New("integrity violation")
	ErrNoEvents            = errors.New("no events to store")

	// ErrAggregateDiscarded is returned when a discarded aggregate is mutated,
	// saved or fetched. It matches both ErrConcurrencyConflict and
	// ErrAggregateNotFound with errors.Is.
	ErrAggregateDiscarded error = discardedError{}
)

type discardedError struct{}

func (discardedError) Error() string { return "aggregate discarded" }

func (discardedError) Is(target error) bool {
	return target == ErrConcurrencyConflict || target == ErrAggregateNotFound
}

// IntegrityError reports a broken hash chain or a record that failed authentication.
type IntegrityError struct {
	OriginatorID string
	Version      Version
	Reason       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: originator_id=%s version=%d: %s", ErrIntegrity, e.OriginatorID, e.Version, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

func newIntegrityError(id string, v Version, format string, args ...any) *IntegrityError {
	return &IntegrityError{OriginatorID: id, Version: v, Reason: fmt.Sprintf(format, args...)}
}
