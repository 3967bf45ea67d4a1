// Package serial implements the usb-serial driver core: composite driver
// sets made of independently written sub-drivers that share one bus-facing
// handle.
//
// A module supporting several chip families describes each family with a
// [Driver] and brings the whole set up with [Coordinator.RegisterDrivers]:
//
//	c, _ := serial.NewCoordinator(b)
//	h, err := c.RegisterDrivers(ctx, []*serial.Driver{ftdi, pl2303}, "usbserial_generic", ids)
//	if err != nil {
//	    // Nothing is left registered.
//	}
//	defer c.DeregisterDrivers(ctx, []*serial.Driver{ftdi, pl2303})
//
// # Bring-up order
//
// The bus handle is registered before any sub-driver but without a match
// table, so the bus cannot probe it. Sub-drivers are registered in order,
// each recording the handle that fronts it. The table is installed and a
// matching pass run only after every sub-driver is live; the bus may call
// back into the core from that pass before RegisterDrivers returns.
//
// If any step fails, everything registered so far is released in reverse
// order and a [*RegistrationError] describes the failure.
//
// # Dispatch
//
// The handle's probe, disconnect, suspend and resume callbacks are routed
// through a [Core], which picks the sub-driver whose own table matches the
// interface and tracks the resulting [Serial] devices.
//
// # Telemetry
//
// Bring-up and teardown are traced and counted through OpenTelemetry. The
// global providers are used unless [WithTracerProvider] or
// [WithMeterProvider] are given.
package serial
