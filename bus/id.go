package bus

import (
	"fmt"
	"strings"
)

// MatchFlags selects which fields of a DeviceID participate in matching.
type MatchFlags uint16

// Match flag bits. A DeviceID with no flags set matches nothing.
const (
	MatchVendor            MatchFlags = 1 << iota // VendorID
	MatchProduct                                  // ProductID
	MatchDeviceLo                                 // BcdDevice >= BcdDeviceLo
	MatchDeviceHi                                 // BcdDevice <= BcdDeviceHi
	MatchDeviceClass                              // DeviceClass
	MatchDeviceSubClass                           // DeviceSubClass
	MatchDeviceProtocol                           // DeviceProtocol
	MatchInterfaceClass                           // InterfaceClass
	MatchInterfaceSubClass                        // InterfaceSubClass
	MatchInterfaceProtocol                        // InterfaceProtocol
	MatchInterfaceNumber                          // InterfaceNumber
)

// Common flag combinations.
const (
	MatchDevice          = MatchVendor | MatchProduct
	MatchDeviceAndRev    = MatchDevice | MatchDeviceLo | MatchDeviceHi
	MatchInterfaceInfo   = MatchInterfaceClass | MatchInterfaceSubClass | MatchInterfaceProtocol
	matchInterfaceFields = MatchInterfaceInfo | MatchInterfaceNumber
)

// DeviceID is one entry of a driver's match table.
type DeviceID struct {
	Flags MatchFlags

	VendorID    uint16
	ProductID   uint16
	BcdDeviceLo uint16
	BcdDeviceHi uint16

	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8

	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceNumber   uint8

	// DriverInfo is opaque to the bus and handed to the driver on probe.
	DriverInfo uint64
}

// ID returns a DeviceID matching the given vendor and product.
func ID(vendor, product uint16) DeviceID {
	return DeviceID{Flags: MatchDevice, VendorID: vendor, ProductID: product}
}

// IDInterface returns a DeviceID matching vendor, product and interface number.
func IDInterface(vendor, product uint16, number uint8) DeviceID {
	return DeviceID{
		Flags:           MatchDevice | MatchInterfaceNumber,
		VendorID:        vendor,
		ProductID:       product,
		InterfaceNumber: number,
	}
}

// IDInterfaceInfo returns a DeviceID matching an interface class triple.
func IDInterfaceInfo(class, subClass, protocol uint8) DeviceID {
	return DeviceID{
		Flags:             MatchInterfaceInfo,
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	}
}

// IsZero reports whether id has no match flags set.
func (id DeviceID) IsZero() bool {
	return id.Flags == 0
}

// Matches reports whether intf satisfies every field selected by id.Flags.
func (id DeviceID) Matches(intf *Interface) bool {
	if id.IsZero() || intf == nil || intf.dev == nil {
		return false
	}

	d := &intf.dev.desc
	if id.Flags&MatchVendor != 0 && id.VendorID != d.VendorID {
		return false
	}
	if id.Flags&MatchProduct != 0 && id.ProductID != d.ProductID {
		return false
	}
	if id.Flags&MatchDeviceLo != 0 && d.BcdDevice < id.BcdDeviceLo {
		return false
	}
	if id.Flags&MatchDeviceHi != 0 && d.BcdDevice > id.BcdDeviceHi {
		return false
	}
	if id.Flags&MatchDeviceClass != 0 && id.DeviceClass != d.DeviceClass {
		return false
	}
	if id.Flags&MatchDeviceSubClass != 0 && id.DeviceSubClass != d.DeviceSubClass {
		return false
	}
	if id.Flags&MatchDeviceProtocol != 0 && id.DeviceProtocol != d.DeviceProtocol {
		return false
	}

	// Interface class matching is skipped for vendor-specific devices
	// unless the entry also pins the vendor.
	if d.DeviceClass == ClassVendorSpecific &&
		id.Flags&MatchVendor == 0 &&
		id.Flags&matchInterfaceFields != 0 {
		return false
	}

	i := &intf.desc
	if id.Flags&MatchInterfaceClass != 0 && id.InterfaceClass != i.Class {
		return false
	}
	if id.Flags&MatchInterfaceSubClass != 0 && id.InterfaceSubClass != i.SubClass {
		return false
	}
	if id.Flags&MatchInterfaceProtocol != 0 && id.InterfaceProtocol != i.Protocol {
		return false
	}
	if id.Flags&MatchInterfaceNumber != 0 && id.InterfaceNumber != i.Number {
		return false
	}
	return true
}

// String returns a compact description such as "0403:6001" or
// "0403:6001 if=1".
func (id DeviceID) String() string {
	if id.IsZero() {
		return "<none>"
	}

	var parts []string
	if id.Flags&MatchDevice == MatchDevice {
		parts = append(parts, fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID))
	} else if id.Flags&MatchVendor != 0 {
		parts = append(parts, fmt.Sprintf("%04x:*", id.VendorID))
	}
	if id.Flags&(MatchDeviceLo|MatchDeviceHi) != 0 {
		parts = append(parts, fmt.Sprintf("bcd=%04x-%04x", id.BcdDeviceLo, id.BcdDeviceHi))
	}
	if id.Flags&MatchDeviceClass != 0 {
		parts = append(parts, fmt.Sprintf("class=%02x", id.DeviceClass))
	}
	if id.Flags&MatchInterfaceInfo != 0 {
		parts = append(parts, fmt.Sprintf("ifclass=%02x/%02x/%02x",
			id.InterfaceClass, id.InterfaceSubClass, id.InterfaceProtocol))
	}
	if id.Flags&MatchInterfaceNumber != 0 {
		parts = append(parts, fmt.Sprintf("if=%d", id.InterfaceNumber))
	}
	return strings.Join(parts, " ")
}

// IDTable is an ordered match table. The first matching entry wins.
type IDTable []DeviceID

// Match returns the first entry in t matching intf.
func (t IDTable) Match(intf *Interface) (DeviceID, bool) {
	for _, id := range t {
		if id.Matches(intf) {
			return id, true
		}
	}
	return DeviceID{}, false
}

// Merge returns a new table containing the entries of t followed by the
// entries of others that are not already present.
func (t IDTable) Merge(others ...IDTable) IDTable {
	out := make(IDTable, 0, len(t))
	seen := make(map[DeviceID]struct{})
	add := func(id DeviceID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range t {
		add(id)
	}
	for _, o := range others {
		for _, id := range o {
			add(id)
		}
	}
	return out
}
