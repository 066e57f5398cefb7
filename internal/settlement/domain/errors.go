package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrMalformedEvent       = errors.New("malformed_event")
	ErrProviderUnavailable  = errors.New("provider_unavailable")
	ErrOrderCancelled       = errors.New("order_cancelled")
	ErrOrderAlreadyPaid     = errors.New("order_already_paid")
	ErrOrderOwnership       = errors.New("order_ownership_mismatch")
	ErrStorageTransient     = errors.New("storage_transient")
	ErrEventInFlight        = errors.New("event_in_flight")
	ErrLeaseLost            = errors.New("lease_lost")
	ErrConfirmationRejected = errors.New("confirmation_rejected")
	ErrEventNotFound        = errors.New("event_not_found")
)

// Malformed wraps ErrMalformedEvent with the reason the event was rejected.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// PartialApplicationError reports the orders an event could not be applied
// to. Orders absent from Failures were applied.
type PartialApplicationError struct {
	Outcome  Outcome
	Failures map[string]error
}

func (e *PartialApplicationError) Error() string {
	ids := e.FailedOrderIDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("partial_application(%s): %s", e.Outcome, strings.Join(parts, "; "))
}

func (e *PartialApplicationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, id := range e.FailedOrderIDs() {
		out = append(out, e.Failures[id])
	}
	return out
}

// Transient reports whether a redelivery could finish the remaining work.
func (e *PartialApplicationError) Transient() bool {
	for _, err := range e.Failures {
		if errors.Is(err, ErrStorageTransient) {
			return true
		}
	}
	return false
}

func (e *PartialApplicationError) FailedOrderIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
