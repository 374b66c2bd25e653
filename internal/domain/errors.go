// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (first writer wins).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the request payload failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrTerminal indicates a state-mutating command was issued against a run
// that already reached done, failed or canceled.
var ErrTerminal = errors.New("run is already terminal")
