package bonds

import "errors"

var (
	// ErrBondNotFound is returned when an address is not in the bond list.
	ErrBondNotFound = errors.New("bond not found")

	// ErrBondExists is returned when adding an address that is already bonded.
	ErrBondExists = errors.New("bond already exists")

	// ErrReadOnly is returned by sources that cannot be edited at runtime.
	ErrReadOnly = errors.New("bond source is read-only")

	// ErrUnknownSource is returned for an unrecognised source name.
	ErrUnknownSource = errors.New("unknown bond source")
)
