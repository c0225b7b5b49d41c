package domain

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates that a conditional write lost a race
	// more times than the store is willing to retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrMalformedOrder is returned for upstream payloads missing required fields.
	ErrMalformedOrder = errors.New("malformed order payload")
	// ErrInvalidStatus is returned for card status values outside the enum.
	ErrInvalidStatus = errors.New("invalid card status")
	// ErrInvalidDate is returned when a delivery date is missing or malformed.
	ErrInvalidDate = errors.New("invalid delivery date")
	// ErrInvalidCardID is returned for empty or unparseable card ids.
	ErrInvalidCardID = errors.New("invalid card id")
)
