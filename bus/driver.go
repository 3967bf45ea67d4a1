package bus

import (
	"sync"
	"sync/atomic"
)

// Driver is a bus-facing driver handle. The bus offers interfaces to a
// registered Driver whose ID table (static or dynamic) matches them.
//
// The exported fields are configuration and must be set before the driver
// is registered. The ID table is installed separately with
// [Bus.InstallIDTable] so that a registered driver can stay unmatchable
// until its owner is ready.
type Driver struct {
	// Name identifies the driver on the bus. It must be unique.
	Name string

	// NoDynamicID rejects run-time ID additions through AddDynamicID.
	NoDynamicID bool

	// SupportsAutosuspend allows runtime power management of bound
	// interfaces.
	SupportsAutosuspend bool

	// Probe is called when an interface matches. Returning an error leaves
	// the interface unbound.
	Probe func(intf *Interface, id DeviceID) error

	// Disconnect is called when a bound interface goes away or the driver
	// is deregistered.
	Disconnect func(intf *Interface)

	// Suspend and Resume forward power transitions of bound interfaces.
	Suspend func(intf *Interface, msg PMMessage) error
	Resume  func(intf *Interface) error

	idTable atomic.Pointer[IDTable]

	dynMutex   sync.RWMutex
	dynamicIDs IDTable
}

// IDTable returns the installed static ID table, or nil if none has been
// installed.
func (d *Driver) IDTable() IDTable {
	if t := d.idTable.Load(); t != nil {
		return *t
	}
	return nil
}

// DynamicIDs returns a copy of the IDs added at run time.
func (d *Driver) DynamicIDs() IDTable {
	d.dynMutex.RLock()
	defer d.dynMutex.RUnlock()
	return append(IDTable(nil), d.dynamicIDs...)
}

// match checks dynamic IDs first, then the static table.
func (d *Driver) match(intf *Interface) (DeviceID, bool) {
	d.dynMutex.RLock()
	id, ok := d.dynamicIDs.Match(intf)
	d.dynMutex.RUnlock()
	if ok {
		return id, true
	}
	return d.IDTable().Match(intf)
}

func (d *Driver) addDynamicID(id DeviceID) {
	d.dynMutex.Lock()
	defer d.dynMutex.Unlock()
	d.dynamicIDs = append(d.dynamicIDs, id)
}

func (d *Driver) clearDynamicIDs() {
	d.dynMutex.Lock()
	defer d.dynMutex.Unlock()
	d.dynamicIDs = nil
}
