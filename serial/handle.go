package serial

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// PendingHandle is a composite bus handle that exists but cannot match
// devices: no ID table has been installed. The only way to obtain an
// active Handle from it is through a successful bring-up.
type PendingHandle struct {
	driver *bus.Driver
	id     uuid.UUID
}

// NewHandle creates the bus-facing handle for a composite set named name.
// The handle supports autosuspend, refuses dynamic IDs, and forwards its
// lifecycle callbacks to core.
func NewHandle(name string, core *Core) (*PendingHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("new handle: empty name: %w", pkg.ErrInvalidParameter)
	}
	if core == nil {
		return nil, fmt.Errorf("new handle %q: nil core: %w", name, pkg.ErrInvalidParameter)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("new handle %q: %w: %w", name, pkg.ErrNoMemory, err)
	}

	drv := &bus.Driver{
		Name:                name,
		NoDynamicID:         true,
		SupportsAutosuspend: true,
	}
	drv.Probe = func(intf *bus.Interface, _ bus.DeviceID) error {
		return core.probe(drv, intf)
	}
	drv.Disconnect = core.disconnect
	drv.Suspend = core.suspend
	drv.Resume = core.resume

	return &PendingHandle{driver: drv, id: id}, nil
}

// Driver returns the underlying bus driver.
func (p *PendingHandle) Driver() *bus.Driver {
	return p.driver
}

// ID returns the instance identity of the handle.
func (p *PendingHandle) ID() uuid.UUID {
	return p.id
}

// activate installs t through b, making the handle matchable.
func (p *PendingHandle) activate(b Bus, t bus.IDTable) *Handle {
	b.InstallIDTable(p.driver, t)
	return &Handle{driver: p.driver, id: p.id}
}

// Handle is an active composite bus handle: registered, fronting every
// sub-driver of its set, and matchable.
type Handle struct {
	driver *bus.Driver
	id     uuid.UUID
}

// Driver returns the underlying bus driver.
func (h *Handle) Driver() *bus.Driver {
	return h.driver
}

// ID returns the instance identity of the handle.
func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Name returns the handle name.
func (h *Handle) Name() string {
	return h.driver.Name
}

// IDTable returns the installed match table.
func (h *Handle) IDTable() bus.IDTable {
	return h.driver.IDTable()
}
