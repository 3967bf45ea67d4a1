package serial

import (
	"errors"
	"fmt"

	"github.com/ardnew/usbserial/pkg"
)

// Coordinator errors.
var (
	// ErrEmptySet indicates a bring-up or teardown with no sub-drivers.
	ErrEmptySet = errors.New("empty sub-driver set")

	// ErrBusRegistration indicates the bus rejected the composite handle.
	ErrBusRegistration = errors.New("bus handle registration failed")

	// ErrSubDriverRegistration indicates a sub-driver failed to register.
	ErrSubDriverRegistration = errors.New("sub-driver registration failed")

	// ErrHandleMismatch indicates the sub-drivers passed to teardown are not
	// fronted by one common bus handle.
	ErrHandleMismatch = errors.New("sub-drivers do not share a bus handle")
)

// ErrorKind classifies a failed bring-up.
type ErrorKind uint8

// Bring-up failure kinds.
const (
	KindEmptySet              ErrorKind = iota + 1 // No sub-drivers given
	KindAllocation                                 // Handle could not be allocated
	KindBusRegistration                            // Bus rejected the handle
	KindSubDriverRegistration                      // A sub-driver failed
)

// String returns a human-readable kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindEmptySet:
		return "empty set"
	case KindAllocation:
		return "allocation"
	case KindBusRegistration:
		return "bus registration"
	case KindSubDriverRegistration:
		return "sub-driver registration"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindEmptySet:
		return ErrEmptySet
	case KindAllocation:
		return pkg.ErrNoMemory
	case KindBusRegistration:
		return ErrBusRegistration
	default:
		return ErrSubDriverRegistration
	}
}

// RegistrationError reports a failed bring-up. By the time it is returned
// every partial registration has been undone; it needs no cleanup.
//
// errors.Is matches both the kind sentinel (ErrEmptySet, pkg.ErrNoMemory,
// ErrBusRegistration, ErrSubDriverRegistration) and the underlying cause.
type RegistrationError struct {
	Kind ErrorKind

	// Name is the composite handle name.
	Name string

	// Index is the position of the failing sub-driver, or -1.
	Index int

	// Driver is the name of the failing sub-driver, if any.
	Driver string

	Err error
}

func (e *RegistrationError) Error() string {
	switch {
	case e.Kind == KindSubDriverRegistration:
		return fmt.Sprintf("register drivers %q: sub-driver %d (%s): %v", e.Name, e.Index, e.Driver, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("register drivers %q: %s: %v", e.Name, e.Kind, e.Err)
	default:
		return fmt.Sprintf("register drivers %q: %v", e.Name, e.Kind.sentinel())
	}
}

// Unwrap returns the kind sentinel and the cause.
func (e *RegistrationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}
