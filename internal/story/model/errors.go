package model

import "errors"

var (
	// ErrBackendUnavailable means no store is configured or reachable.
	ErrBackendUnavailable = errors.New("story backend unavailable")

	// ErrNotFound covers both absent and not-owned stories. The two are
	// never distinguished so other users' ids do not leak.
	ErrNotFound = errors.New("story not found")

	// ErrDemoUnavailable is a failed fetch of the bundled demo document.
	ErrDemoUnavailable = errors.New("demo story unavailable")

	ErrReadOnly     = errors.New("story is read-only")
	ErrInvalidInput = errors.New("invalid input")
)
