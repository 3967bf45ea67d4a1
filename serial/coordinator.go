package serial

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// Bus is the bus subsystem composite handles are registered with.
// *bus.Bus implements it.
type Bus interface {
	Register(d *bus.Driver) error
	Deregister(d *bus.Driver)
	InstallIDTable(d *bus.Driver, t bus.IDTable)
	Attach(d *bus.Driver) error
}

// Registry is where sub-drivers are registered. *Core implements it.
type Registry interface {
	Register(d *Driver) error
	Deregister(d *Driver)
}

// Coordinator brings composite driver sets up and tears them down.
type Coordinator struct {
	bus      Bus
	core     *Core
	registry Registry

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	telemetry      *telemetry

	mutex  sync.Mutex
	active map[*bus.Driver]*Handle
}

// NewCoordinator creates a coordinator registering handles with b.
func NewCoordinator(b Bus, opts ...Option) (*Coordinator, error) {
	if b == nil {
		return nil, fmt.Errorf("new coordinator: nil bus: %w", pkg.ErrInvalidParameter)
	}

	c := &Coordinator{
		bus:    b,
		active: make(map[*bus.Driver]*Handle),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("new coordinator: %w", err)
		}
	}

	if c.core == nil {
		c.core = NewCore()
	}
	if c.registry == nil {
		c.registry = c.core
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}

	t, err := newTelemetry(c.tracerProvider, c.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("new coordinator: telemetry: %w", err)
	}
	c.telemetry = t

	return c, nil
}

// Core returns the serial core handle callbacks dispatch to.
func (c *Coordinator) Core() *Core {
	return c.core
}

// Handles returns the handles brought up by this coordinator and not yet
// torn down.
func (c *Coordinator) Handles() []*Handle {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]*Handle, 0, len(c.active))
	for _, h := range c.active {
		out = append(out, h)
	}
	return out
}

// RegisterDrivers registers the sub-drivers in drivers behind one bus
// handle named name and makes the handle match table.
//
// The handle is registered first with no match table. Each sub-driver is
// then pointed at the handle and registered in order. Only after all of
// them succeed is table installed and a matching pass run, so no device
// can probe a partially registered set. A failed matching pass is logged
// and tolerated; devices bind on their next hotplug.
//
// On failure nothing stays registered: sub-drivers are deregistered in
// reverse order, then the handle. The returned *RegistrationError is
// informational.
func (c *Coordinator) RegisterDrivers(ctx context.Context, drivers []*Driver, name string, table bus.IDTable) (handle *Handle, err error) {
	ctx, op := c.telemetry.start(ctx, opRegister, name, len(drivers))
	defer func() { op.end(ctx, err) }()

	if len(drivers) == 0 {
		return nil, &RegistrationError{Kind: KindEmptySet, Name: name, Index: -1}
	}

	pending, err := NewHandle(name, c.core)
	if err != nil {
		return nil, &RegistrationError{Kind: KindAllocation, Name: name, Index: -1, Err: err}
	}
	op.handleID(pending.ID().String())
	drv := pending.Driver()

	if err := c.bus.Register(drv); err != nil {
		pkg.LogWarn(pkg.ComponentCoordinator, "bus rejected handle",
			"handle", name,
			"error", err)
		return nil, &RegistrationError{Kind: KindBusRegistration, Name: name, Index: -1, Err: err}
	}

	var undo undoStack
	defer undo.unwind()
	undo.push("handle "+name, func() { c.bus.Deregister(drv) })

	for i, d := range drivers {
		if err := c.registerOne(d, drv); err != nil {
			pkg.LogWarn(pkg.ComponentCoordinator, "sub-driver registration failed",
				"handle", name,
				"index", i,
				"rollback", i,
				"error", err)
			op.rollback(ctx, name, i)
			return nil, &RegistrationError{
				Kind:   KindSubDriverRegistration,
				Name:   name,
				Index:  i,
				Driver: driverName(d),
				Err:    err,
			}
		}
		undo.push("sub-driver "+d.Name, func() {
			c.registry.Deregister(d)
			d.clearHandle(drv)
		})
	}
	undo.commit()

	handle = pending.activate(c.bus, table)
	if err := c.bus.Attach(drv); err != nil {
		pkg.LogWarn(pkg.ComponentCoordinator, "matching pass failed, devices will bind on hotplug",
			"handle", name,
			"error", err)
	}

	c.mutex.Lock()
	c.active[drv] = handle
	c.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentCoordinator, "driver set registered",
		"handle", name,
		"id", handle.ID().String(),
		"sub_drivers", len(drivers),
		"ids", len(table))
	return handle, nil
}

// DeregisterDrivers tears down a set brought up by RegisterDrivers.
//
// All of drivers must be fronted by the same handle; otherwise
// ErrHandleMismatch is returned and nothing is touched. Sub-drivers are
// deregistered in list order, then the handle. Individual deregistration
// does not fail.
func (c *Coordinator) DeregisterDrivers(ctx context.Context, drivers []*Driver) (err error) {
	name := ""
	if len(drivers) > 0 && drivers[0] != nil {
		if h := drivers[0].Handle(); h != nil {
			name = h.Name
		}
	}
	ctx, op := c.telemetry.start(ctx, opDeregister, name, len(drivers))
	defer func() { op.end(ctx, err) }()

	h, err := sharedHandle(drivers)
	if err != nil {
		return err
	}

	for _, d := range drivers {
		c.registry.Deregister(d)
		d.clearHandle(h)
	}
	c.bus.Deregister(h)

	c.mutex.Lock()
	if active, ok := c.active[h]; ok {
		op.handleID(active.ID().String())
		delete(c.active, h)
	}
	c.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentCoordinator, "driver set deregistered",
		"handle", name,
		"sub_drivers", len(drivers))
	return nil
}

func (c *Coordinator) registerOne(d *Driver, h *bus.Driver) error {
	if d == nil {
		return fmt.Errorf("nil sub-driver: %w", pkg.ErrInvalidParameter)
	}
	if err := d.setHandle(h); err != nil {
		return err
	}
	if err := c.registry.Register(d); err != nil {
		d.clearHandle(h)
		return err
	}
	return nil
}

// sharedHandle returns the handle fronting every sub-driver in drivers.
func sharedHandle(drivers []*Driver) (*bus.Driver, error) {
	if len(drivers) == 0 {
		return nil, fmt.Errorf("deregister drivers: %w", ErrEmptySet)
	}
	for i, d := range drivers {
		if d == nil {
			return nil, fmt.Errorf("deregister drivers: sub-driver %d is nil: %w", i, pkg.ErrInvalidParameter)
		}
	}

	h := drivers[0].Handle()
	if h == nil {
		return nil, fmt.Errorf("deregister drivers: %q has no handle: %w", drivers[0].Name, ErrHandleMismatch)
	}
	for i, d := range drivers[1:] {
		if d.Handle() != h {
			return nil, fmt.Errorf("deregister drivers: sub-driver %d (%s) not fronted by %q: %w",
				i+1, d.Name, h.Name, ErrHandleMismatch)
		}
	}
	return h, nil
}

func driverName(d *Driver) string {
	if d == nil {
		return "<nil>"
	}
	return d.Name
}
