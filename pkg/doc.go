// Package pkg provides shared utilities for the usbserial driver core.
//
// This package contains common functionality used by the bus, serial and
// config packages, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values shared across packages
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBus, "driver registered", "driver", name)
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrAlreadyRegistered) {
//	    // Handle duplicate registration
//	}
package pkg
