// Package models defines the data structures for the matching engine.
package models

import "errors"

// Load-time validation errors. All of them are fatal: a malformed entity
// aborts the run before anything is emitted.
var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrEmptyID        = errors.New("entity id is empty")
)

// ErrInvariantViolated signals an internal inconsistency (index corruption,
// negative squared distance, stage invariant breach). It indicates a bug.
var ErrInvariantViolated = errors.New("internal invariant violated")
