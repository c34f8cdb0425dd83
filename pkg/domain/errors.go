package domain

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by TransferError. Callers match them with errors.Is.
var (
	// ErrTransfer matches every TransferError regardless of cause.
	ErrTransfer = errors.New("transfer error")
	// ErrCapacityExceeded indicates an addition would bring a well over capacity.
	ErrCapacityExceeded = errors.New("volume over capacity")
	// ErrInsufficientVolume indicates a subtraction larger than the current volume.
	ErrInsufficientVolume = errors.New("insufficient volume")
	// ErrUnknownComponent indicates a subtraction of a component the well does not hold.
	ErrUnknownComponent = errors.New("component not tracked")
	// ErrInsufficientQuantity indicates a subtraction larger than the tracked quantity.
	ErrInsufficientQuantity = errors.New("insufficient component quantity")
	// ErrNegativeQuantity indicates a negative volume or component quantity.
	ErrNegativeQuantity = errors.New("negative quantity")
	// ErrEmptySource indicates a transfer out of an empty well.
	ErrEmptySource = errors.New("source well is empty")
	// ErrSourceCycle indicates a provenance graph that loops back on itself.
	ErrSourceCycle = errors.New("source graph contains a cycle")
)

// ErrConflict marks store operations refused because of existing records:
// duplicate names or plates still referenced as a source.
var ErrConflict = errors.New("conflict")

// ErrInvalid marks malformed input: bad plate geometry, unknown well names,
// directions or policies, and unusable transfer requests.
var ErrInvalid = errors.New("invalid input")

type invalidError struct{ err error }

func (e invalidError) Error() string   { return e.err.Error() }
func (e invalidError) Unwrap() []error { return []error{ErrInvalid, e.err} }

// invalidf formats an error that matches ErrInvalid and keeps any %w operand.
func invalidf(format string, args ...any) error {
	return invalidError{err: fmt.Errorf(format, args...)}
}

// TransferError is the single domain error raised when a transfer would violate
// capacity or availability constraints. It is always returned before any
// mutation takes place.
type TransferError struct {
	Op      string
	Message string
	Cause   error
}

func newTransferError(op string, cause error, format string, args ...any) *TransferError {
	return &TransferError{Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *TransferError) Error() string {
	return e.Message
}

// Unwrap exposes both ErrTransfer and the specific cause.
func (e *TransferError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrTransfer}
	}
	return []error{ErrTransfer, e.Cause}
}

// ErrNotFound is returned when a plate, well or run lookup fails.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
