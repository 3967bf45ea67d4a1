package serial

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// Driver describes one sub-driver of a composite set, such as the driver
// for a single chip family. The caller owns the Driver; the coordinator
// only records which bus handle fronts it.
type Driver struct {
	// Name identifies the sub-driver. It must be unique within a Core.
	Name string

	// Description is a human-readable label used in logs.
	Description string

	// IDTable selects the interfaces this sub-driver handles. It should be
	// a subset of the match table of the composite set.
	IDTable bus.IDTable

	// NumPorts is the number of serial ports a matching interface exposes.
	// Zero means one. Probe may override it per interface.
	NumPorts int

	// Probe inspects a matching interface before the serial device is
	// attached. Returning an error declines the interface.
	Probe func(s *Serial, id bus.DeviceID) error

	// Attach finishes setting up a probed serial device.
	Attach func(s *Serial) error

	// Disconnect is called when the interface goes away, before Release.
	Disconnect func(s *Serial)

	// Release frees per-device state set up by Probe or Attach.
	Release func(s *Serial)

	// Suspend and Resume forward power transitions.
	Suspend func(s *Serial, msg bus.PMMessage) error
	Resume  func(s *Serial) error

	handle atomic.Pointer[bus.Driver]
}

// Handle returns the bus handle fronting this sub-driver, or nil if the
// sub-driver is not part of a registered set.
func (d *Driver) Handle() *bus.Driver {
	return d.handle.Load()
}

// String returns the sub-driver name and description.
func (d *Driver) String() string {
	if d.Description == "" {
		return d.Name
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Description)
}

// setHandle writes the back-reference. It fails if the sub-driver is
// already fronted by a handle.
func (d *Driver) setHandle(h *bus.Driver) error {
	if d.handle.CompareAndSwap(nil, h) {
		return nil
	}
	owner := ""
	if cur := d.handle.Load(); cur != nil {
		owner = cur.Name
	}
	return fmt.Errorf("sub-driver %q fronted by %q: %w", d.Name, owner, pkg.ErrAlreadyBound)
}

// clearHandle drops the back-reference if it still points at h.
func (d *Driver) clearHandle(h *bus.Driver) {
	d.handle.CompareAndSwap(h, nil)
}

// Serial is one interface bound to a sub-driver.
type Serial struct {
	driver *Driver
	intf   *bus.Interface
	id     bus.DeviceID

	mutex        sync.RWMutex
	numPorts     int
	suspended    bool
	disconnected bool
	data         any
}

func newSerial(d *Driver, intf *bus.Interface, id bus.DeviceID) *Serial {
	n := d.NumPorts
	if n <= 0 {
		n = 1
	}
	return &Serial{driver: d, intf: intf, id: id, numPorts: n}
}

// Driver returns the sub-driver handling the serial device.
func (s *Serial) Driver() *Driver {
	return s.driver
}

// Interface returns the bus interface of the serial device.
func (s *Serial) Interface() *bus.Interface {
	return s.intf
}

// ID returns the sub-driver table entry that matched.
func (s *Serial) ID() bus.DeviceID {
	return s.id
}

// NumPorts returns the number of ports.
func (s *Serial) NumPorts() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.numPorts
}

// SetNumPorts overrides the number of ports. Values below one are ignored.
func (s *Serial) SetNumPorts(n int) {
	if n < 1 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.numPorts = n
}

// IsSuspended reports whether the device is suspended.
func (s *Serial) IsSuspended() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.suspended
}

// IsDisconnected reports whether the device has been disconnected.
func (s *Serial) IsDisconnected() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.disconnected
}

// SetData attaches sub-driver private data.
func (s *Serial) SetData(v any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data = v
}

// Data returns the private data attached with SetData.
func (s *Serial) Data() any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.data
}

// String returns "interface driver".
func (s *Serial) String() string {
	return fmt.Sprintf("%s %s", s.intf, s.driver.Name)
}

func (s *Serial) setSuspended(v bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.suspended = v
}

func (s *Serial) markDisconnected() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.disconnected = true
}
