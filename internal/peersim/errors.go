package peersim

import "errors"

// ATT-level failures reported by simulated peripherals.
var (
	// ErrNotSupported is the simulated ENOTSUP: bad length, out of range
	// value or an interlock refusing the change.
	ErrNotSupported = errors.New("peersim: operation not supported")

	// ErrWriteNotPermitted is returned for writes to read-only attributes.
	ErrWriteNotPermitted = errors.New("peersim: write not permitted")

	// ErrInvalidHandle is returned for handles the database does not hold.
	ErrInvalidHandle = errors.New("peersim: invalid handle")

	// ErrNotConnectable is returned by Dial for unknown or busy peripherals.
	ErrNotConnectable = errors.New("peersim: peripheral not connectable")
)
