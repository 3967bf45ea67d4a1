package pkg

import "errors"

// Driver core errors.
var (
	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoMemory indicates a driver object could not be allocated.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrAlreadyRegistered indicates a driver with the same identity is
	// already registered.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrNotRegistered indicates the driver is not registered.
	ErrNotRegistered = errors.New("not registered")

	// ErrAlreadyBound indicates a driver or interface is already bound to
	// another owner.
	ErrAlreadyBound = errors.New("already bound")

	// ErrNoDevice indicates no driver claims the device.
	ErrNoDevice = errors.New("no matching driver")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")
)
