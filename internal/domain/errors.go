package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCadence   = errors.New("cadence minutes out of range")
	ErrEmptyProgress    = errors.New("progress text must not be empty")
	ErrSessionExists    = errors.New("session already exists")
	ErrUpdateConflict   = errors.New("session update affected no rows")
	ErrMissingPromptDue = errors.New("due session has no next prompt time")
	ErrMissingThreadID  = errors.New("thread created without an id")
	ErrNoDeliveryTarget = errors.New("session has no channel or thread")
	ErrNoActiveSession  = errors.New("no active session")
)

// DeliveryError is returned by chat platform adapters when the remote API
// rejects a call.
type DeliveryError struct {
	Op     string
	Status int
	Body   any
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: delivery failed (status %d)", e.Op, e.Status)
}
