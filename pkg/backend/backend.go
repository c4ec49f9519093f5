// Package backend defines the errors shared by every node registry
// implementation. The registry interfaces themselves are declared by their
// consumers (the boot plane and the lifecycle service); the concrete
// implementations live in the subpackages.
package backend

import "errors"

var (
	// ErrNotFound is returned when a node or workflow does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create would duplicate a MAC address or
	// serial number.
	ErrConflict = errors.New("already exists")
)
