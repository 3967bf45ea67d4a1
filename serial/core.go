package serial

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// Core keeps the registered sub-drivers and dispatches the lifecycle
// callbacks of composite bus handles to them. It is the default Registry
// of a Coordinator.
type Core struct {
	mutex   sync.RWMutex
	drivers []*Driver
	serials map[*bus.Interface]*Serial
}

// NewCore creates an empty serial core.
func NewCore() *Core {
	return &Core{
		serials: make(map[*bus.Interface]*Serial),
	}
}

// Register adds a sub-driver. The sub-driver must already be fronted by a
// bus handle.
func (c *Core) Register(d *Driver) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("register sub-driver: %w", pkg.ErrInvalidParameter)
	}
	if d.Handle() == nil {
		return fmt.Errorf("register sub-driver %q: no bus handle: %w", d.Name, pkg.ErrInvalidParameter)
	}

	c.mutex.Lock()
	for _, r := range c.drivers {
		if r == d || r.Name == d.Name {
			c.mutex.Unlock()
			return fmt.Errorf("register sub-driver %q: %w", d.Name, pkg.ErrAlreadyRegistered)
		}
	}
	c.drivers = append(c.drivers, d)
	c.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentSerial, "sub-driver registered",
		"driver", d.String(),
		"handle", d.Handle().Name)
	return nil
}

// Deregister removes a sub-driver and disconnects every serial device it
// handles. Deregistering an unknown sub-driver does nothing.
func (c *Core) Deregister(d *Driver) {
	if d == nil {
		return
	}

	c.mutex.Lock()
	idx := c.indexLocked(d)
	if idx < 0 {
		c.mutex.Unlock()
		pkg.LogDebug(pkg.ComponentSerial, "deregister of unknown sub-driver ignored",
			"driver", d.Name)
		return
	}
	c.drivers = append(c.drivers[:idx], c.drivers[idx+1:]...)

	var owned []*Serial
	for intf, s := range c.serials {
		if s.driver == d {
			owned = append(owned, s)
			delete(c.serials, intf)
		}
	}
	c.mutex.Unlock()

	for _, s := range owned {
		c.shutdown(s)
	}

	pkg.LogInfo(pkg.ComponentSerial, "sub-driver deregistered",
		"driver", d.Name,
		"disconnected", len(owned))
}

// IsRegistered reports whether d is registered.
func (c *Core) IsRegistered(d *Driver) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.indexLocked(d) >= 0
}

// Drivers returns the registered sub-drivers in registration order.
func (c *Core) Drivers() []*Driver {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]*Driver(nil), c.drivers...)
}

// Serials returns the attached serial devices.
func (c *Core) Serials() []*Serial {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]*Serial, 0, len(c.serials))
	for _, s := range c.serials {
		out = append(out, s)
	}
	return out
}

// Serial returns the serial device bound to intf, or nil.
func (c *Core) Serial(intf *bus.Interface) *Serial {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.serials[intf]
}

func (c *Core) indexLocked(d *Driver) int {
	for i, r := range c.drivers {
		if r == d {
			return i
		}
	}
	return -1
}

// lookup finds the first registered sub-driver fronted by h whose table
// matches intf.
func (c *Core) lookup(h *bus.Driver, intf *bus.Interface) (*Driver, bus.DeviceID) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, d := range c.drivers {
		if d.Handle() != h {
			continue
		}
		if id, ok := d.IDTable.Match(intf); ok {
			return d, id
		}
	}
	return nil, bus.DeviceID{}
}

// probe is the Probe delegate of the composite handle h.
func (c *Core) probe(h *bus.Driver, intf *bus.Interface) error {
	d, id := c.lookup(h, intf)
	if d == nil {
		return fmt.Errorf("probe %s via %q: %w", intf, h.Name, pkg.ErrNoDevice)
	}

	s := newSerial(d, intf, id)
	if d.Probe != nil {
		if err := d.Probe(s, id); err != nil {
			return fmt.Errorf("probe %s with %q: %w", intf, d.Name, err)
		}
	}
	if d.Attach != nil {
		if err := d.Attach(s); err != nil {
			if d.Release != nil {
				d.Release(s)
			}
			return fmt.Errorf("attach %s with %q: %w", intf, d.Name, err)
		}
	}

	c.mutex.Lock()
	if c.indexLocked(d) < 0 {
		c.mutex.Unlock()
		if d.Release != nil {
			d.Release(s)
		}
		return fmt.Errorf("probe %s: %q deregistered: %w", intf, d.Name, pkg.ErrNoDevice)
	}
	c.serials[intf] = s
	c.mutex.Unlock()
	intf.SetData(s)

	pkg.LogInfo(pkg.ComponentSerial, "serial converter attached",
		"interface", intf.String(),
		"driver", d.String(),
		"ports", s.NumPorts())
	return nil
}

// disconnect is the Disconnect delegate of a composite handle.
func (c *Core) disconnect(intf *bus.Interface) {
	c.mutex.Lock()
	s := c.serials[intf]
	delete(c.serials, intf)
	c.mutex.Unlock()

	if s != nil {
		c.shutdown(s)
	}
}

// suspend is the Suspend delegate of a composite handle.
func (c *Core) suspend(intf *bus.Interface, msg bus.PMMessage) error {
	s := c.Serial(intf)
	if s == nil {
		return nil
	}
	if s.driver.Suspend != nil {
		if err := s.driver.Suspend(s, msg); err != nil {
			return err
		}
	}
	s.setSuspended(true)
	pkg.LogDebug(pkg.ComponentSerial, "serial converter suspended",
		"serial", s.String(),
		"msg", msg.String())
	return nil
}

// resume is the Resume delegate of a composite handle.
func (c *Core) resume(intf *bus.Interface) error {
	s := c.Serial(intf)
	if s == nil {
		return nil
	}
	if s.driver.Resume != nil {
		if err := s.driver.Resume(s); err != nil {
			return err
		}
	}
	s.setSuspended(false)
	pkg.LogDebug(pkg.ComponentSerial, "serial converter resumed", "serial", s.String())
	return nil
}

func (c *Core) shutdown(s *Serial) {
	s.markDisconnected()
	if s.driver.Disconnect != nil {
		s.driver.Disconnect(s)
	}
	if s.driver.Release != nil {
		s.driver.Release(s)
	}
	if s.intf.Data() == s {
		s.intf.SetData(nil)
	}

	pkg.LogInfo(pkg.ComponentSerial, "serial converter disconnected",
		"interface", s.intf.String(),
		"driver", s.driver.Name)
}
