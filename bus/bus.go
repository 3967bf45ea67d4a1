package bus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/usbserial/pkg"
)

// Bus matches devices to registered drivers.
//
// Driver callbacks are invoked without the bus lock held, so a callback may
// call back into the bus.
type Bus struct {
	mutex   sync.RWMutex
	drivers []*Driver
	devices []*Device
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Register adds d to the bus and runs a matching pass for it against the
// devices already present. A driver without an ID table matches nothing.
func (b *Bus) Register(d *Driver) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("register driver: %w", pkg.ErrInvalidParameter)
	}

	b.mutex.Lock()
	for _, r := range b.drivers {
		if r == d || r.Name == d.Name {
			b.mutex.Unlock()
			return fmt.Errorf("register driver %q: %w", d.Name, pkg.ErrAlreadyRegistered)
		}
	}
	b.drivers = append(b.drivers, d)
	b.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentBus, "driver registered",
		"driver", d.Name,
		"ids", len(d.IDTable()))

	b.attach(d)
	return nil
}

// Deregister disconnects every interface bound to d and removes d from the
// bus. Deregistering an unknown driver does nothing.
func (b *Bus) Deregister(d *Driver) {
	if d == nil {
		return
	}

	b.mutex.Lock()
	idx := b.driverIndex(d)
	if idx < 0 {
		b.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentBus, "deregister of unknown driver ignored",
			"driver", d.Name)
		return
	}
	b.drivers = append(b.drivers[:idx], b.drivers[idx+1:]...)
	bound := b.boundLocked(d)
	b.mutex.Unlock()

	for _, intf := range bound {
		b.disconnect(intf)
	}
	d.clearDynamicIDs()

	pkg.LogInfo(pkg.ComponentBus, "driver deregistered",
		"driver", d.Name,
		"unbound", len(bound))
}

// InstallIDTable sets the static ID table of d. The table is installed
// under the bus lock so it is never observed half-written by a concurrent
// hotplug matching pass. It does not trigger matching; call Attach.
func (b *Bus) InstallIDTable(d *Driver, t IDTable) {
	if d == nil {
		return
	}
	cp := append(IDTable(nil), t...)

	b.mutex.Lock()
	d.idTable.Store(&cp)
	b.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentBus, "id table installed",
		"driver", d.Name,
		"ids", len(cp))
}

// Attach offers every unbound interface on the bus to d. Probe failures
// are per-interface and only logged.
func (b *Bus) Attach(d *Driver) error {
	if !b.IsRegistered(d) {
		name := ""
		if d != nil {
			name = d.Name
		}
		return fmt.Errorf("attach driver %q: %w", name, pkg.ErrNotRegistered)
	}
	b.attach(d)
	return nil
}

// AddDynamicID adds id to the match table of d at run time and rescans.
func (b *Bus) AddDynamicID(d *Driver, id DeviceID) error {
	if d == nil || id.IsZero() {
		return fmt.Errorf("add dynamic id: %w", pkg.ErrInvalidParameter)
	}
	if !b.IsRegistered(d) {
		return fmt.Errorf("add dynamic id to %q: %w", d.Name, pkg.ErrNotRegistered)
	}
	if d.NoDynamicID {
		return fmt.Errorf("add dynamic id to %q: %w", d.Name, pkg.ErrNotSupported)
	}

	d.addDynamicID(id)
	pkg.LogInfo(pkg.ComponentBus, "dynamic id added",
		"driver", d.Name,
		"id", id.String())

	b.attach(d)
	return nil
}

// AddDevice announces a new device. Each interface is offered to the
// registered drivers in registration order until one binds it.
func (b *Bus) AddDevice(dev *Device) error {
	if dev == nil {
		return fmt.Errorf("add device: %w", pkg.ErrInvalidParameter)
	}

	b.mutex.Lock()
	for _, d := range b.devices {
		if d == dev || d.path == dev.path {
			b.mutex.Unlock()
			return fmt.Errorf("add device %s: %w", dev.path, pkg.ErrAlreadyRegistered)
		}
	}
	b.devices = append(b.devices, dev)
	drivers := append([]*Driver(nil), b.drivers...)
	b.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentBus, "device added",
		"device", dev.String(),
		"interfaces", len(dev.interfaces))

	for _, intf := range dev.interfaces {
		for _, d := range drivers {
			if id, ok := d.match(intf); ok && b.probe(d, intf, id) {
				break
			}
		}
	}
	return nil
}

// RemoveDevice disconnects all bound interfaces of dev and forgets it.
func (b *Bus) RemoveDevice(dev *Device) error {
	if dev == nil {
		return fmt.Errorf("remove device: %w", pkg.ErrInvalidParameter)
	}

	b.mutex.Lock()
	idx := -1
	for i, d := range b.devices {
		if d == dev {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mutex.Unlock()
		return fmt.Errorf("remove device %s: %w", dev.path, pkg.ErrNotRegistered)
	}
	b.devices = append(b.devices[:idx], b.devices[idx+1:]...)
	b.mutex.Unlock()

	for _, intf := range dev.interfaces {
		b.disconnect(intf)
	}

	pkg.LogInfo(pkg.ComponentBus, "device removed", "device", dev.String())
	return nil
}

// Suspend suspends every bound interface of dev. An autosuspend request is
// refused with pkg.ErrBusy if any bound driver lacks autosuspend support.
// If a driver fails to suspend, interfaces already suspended are resumed.
func (b *Bus) Suspend(dev *Device, msg PMMessage) error {
	if dev == nil {
		return fmt.Errorf("suspend: %w", pkg.ErrInvalidParameter)
	}

	bound := boundInterfaces(dev)
	if msg.IsAuto() {
		for _, intf := range bound {
			if d := intf.Driver(); !d.SupportsAutosuspend {
				return fmt.Errorf("autosuspend %s: driver %q: %w", intf, d.Name, pkg.ErrBusy)
			}
		}
	}

	var done []*Interface
	for _, intf := range bound {
		if intf.IsSuspended() {
			continue
		}
		d := intf.Driver()
		if d.Suspend != nil {
			if err := d.Suspend(intf, msg); err != nil {
				pkg.LogWarn(pkg.ComponentBus, "suspend failed",
					"interface", intf.String(),
					"driver", d.Name,
					"error", err)
				for j := len(done) - 1; j >= 0; j-- {
					if rerr := b.resume(done[j]); rerr != nil {
						pkg.LogWarn(pkg.ComponentBus, "resume after failed suspend",
							"interface", done[j].String(),
							"error", rerr)
					}
				}
				return fmt.Errorf("%s %s: %w", msg, intf, err)
			}
		}
		intf.setSuspended(true)
		done = append(done, intf)
	}

	pkg.LogDebug(pkg.ComponentBus, "device suspended",
		"device", dev.String(),
		"msg", msg.String())
	return nil
}

// Resume resumes every suspended bound interface of dev. All interfaces are
// attempted; the returned error joins individual failures.
func (b *Bus) Resume(dev *Device) error {
	if dev == nil {
		return fmt.Errorf("resume: %w", pkg.ErrInvalidParameter)
	}

	var errs []error
	for _, intf := range boundInterfaces(dev) {
		if err := b.resume(intf); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", intf, err))
		}
	}
	return errors.Join(errs...)
}

// IsRegistered reports whether d is registered on the bus.
func (b *Bus) IsRegistered(d *Driver) bool {
	if d == nil {
		return false
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.driverIndex(d) >= 0
}

// Drivers returns the registered drivers in registration order.
func (b *Bus) Drivers() []*Driver {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]*Driver(nil), b.drivers...)
}

// Devices returns the devices present on the bus.
func (b *Bus) Devices() []*Device {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]*Device(nil), b.devices...)
}

// Bound returns the interfaces currently bound to d.
func (b *Bus) Bound(d *Driver) []*Interface {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.boundLocked(d)
}

func (b *Bus) driverIndex(d *Driver) int {
	for i, r := range b.drivers {
		if r == d {
			return i
		}
	}
	return -1
}

func (b *Bus) boundLocked(d *Driver) []*Interface {
	var out []*Interface
	for _, dev := range b.devices {
		for _, intf := range dev.interfaces {
			if intf.Driver() == d {
				out = append(out, intf)
			}
		}
	}
	return out
}

// attach probes d against every unbound matching interface.
func (b *Bus) attach(d *Driver) {
	type candidate struct {
		intf *Interface
		id   DeviceID
	}

	b.mutex.RLock()
	var cands []candidate
	for _, dev := range b.devices {
		for _, intf := range dev.interfaces {
			if intf.Driver() != nil {
				continue
			}
			if id, ok := d.match(intf); ok {
				cands = append(cands, candidate{intf, id})
			}
		}
	}
	b.mutex.RUnlock()

	for _, c := range cands {
		b.probe(d, c.intf, c.id)
	}
}

// probe claims intf for d and runs the driver's Probe callback. The claim
// is dropped if Probe fails.
func (b *Bus) probe(d *Driver, intf *Interface, id DeviceID) bool {
	if !b.IsRegistered(d) || !intf.bind(d) {
		return false
	}

	if d.Probe != nil {
		if err := d.Probe(intf, id); err != nil {
			intf.unbind()
			pkg.LogDebug(pkg.ComponentBus, "probe declined",
				"interface", intf.String(),
				"driver", d.Name,
				"error", err)
			return false
		}
	}

	pkg.LogInfo(pkg.ComponentBus, "interface bound",
		"interface", intf.String(),
		"driver", d.Name,
		"id", id.String())
	return true
}

func (b *Bus) disconnect(intf *Interface) {
	d := intf.Driver()
	if d == nil {
		return
	}
	if d.Disconnect != nil {
		d.Disconnect(intf)
	}
	intf.unbind()

	pkg.LogInfo(pkg.ComponentBus, "interface unbound",
		"interface", intf.String(),
		"driver", d.Name)
}

func (b *Bus) resume(intf *Interface) error {
	if !intf.IsSuspended() {
		return nil
	}
	d := intf.Driver()
	if d != nil && d.Resume != nil {
		if err := d.Resume(intf); err != nil {
			return err
		}
	}
	intf.setSuspended(false)
	return nil
}

func boundInterfaces(dev *Device) []*Interface {
	var out []*Interface
	for _, intf := range dev.interfaces {
		if intf.Driver() != nil {
			out = append(out, intf)
		}
	}
	return out
}
