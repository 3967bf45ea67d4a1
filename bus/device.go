package bus

import (
	"fmt"
	"sync"
)

// DeviceDescriptor holds the device-level fields used for matching.
type DeviceDescriptor struct {
	VendorID       uint16
	ProductID      uint16
	BcdDevice      uint16
	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8
}

// InterfaceDescriptor holds the interface-level fields used for matching.
type InterfaceDescriptor struct {
	Number   uint8
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// Device is a USB device known to the bus. Drivers bind to its interfaces.
type Device struct {
	path       string
	desc       DeviceDescriptor
	interfaces []*Interface
}

// NewDevice creates a device at the given bus path (e.g. "1-1.2") with one
// Interface per descriptor. A device with no interface descriptors gets a
// single interface 0 carrying the device class triple.
func NewDevice(path string, desc DeviceDescriptor, ifaces ...InterfaceDescriptor) *Device {
	if len(ifaces) == 0 {
		ifaces = []InterfaceDescriptor{{
			Class:    desc.DeviceClass,
			SubClass: desc.DeviceSubClass,
			Protocol: desc.DeviceProtocol,
		}}
	}

	d := &Device{path: path, desc: desc}
	d.interfaces = make([]*Interface, len(ifaces))
	for i := range ifaces {
		d.interfaces[i] = &Interface{dev: d, desc: ifaces[i]}
	}
	return d
}

// Path returns the bus path of the device.
func (d *Device) Path() string {
	return d.path
}

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor {
	return d.desc
}

// VendorID returns the device vendor ID.
func (d *Device) VendorID() uint16 {
	return d.desc.VendorID
}

// ProductID returns the device product ID.
func (d *Device) ProductID() uint16 {
	return d.desc.ProductID
}

// Interfaces returns the device interfaces.
// The returned slice references internal storage; do not modify.
func (d *Device) Interfaces() []*Interface {
	return d.interfaces
}

// GetInterface returns the interface with the given number.
func (d *Device) GetInterface(num uint8) *Interface {
	for _, intf := range d.interfaces {
		if intf.desc.Number == num {
			return intf
		}
	}
	return nil
}

// String returns "path vid:pid".
func (d *Device) String() string {
	return fmt.Sprintf("%s %04x:%04x", d.path, d.desc.VendorID, d.desc.ProductID)
}

// Interface is the unit a driver binds to.
type Interface struct {
	dev  *Device
	desc InterfaceDescriptor

	mutex     sync.RWMutex
	driver    *Driver
	suspended bool
	data      any
}

// Device returns the device the interface belongs to.
func (i *Interface) Device() *Device {
	return i.dev
}

// Descriptor returns the interface descriptor.
func (i *Interface) Descriptor() InterfaceDescriptor {
	return i.desc
}

// Number returns the interface number.
func (i *Interface) Number() uint8 {
	return i.desc.Number
}

// Driver returns the bound driver, or nil.
func (i *Interface) Driver() *Driver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.driver
}

// IsSuspended reports whether the interface has been suspended.
func (i *Interface) IsSuspended() bool {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.suspended
}

// SetData attaches driver-private data to the interface.
func (i *Interface) SetData(v any) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.data = v
}

// Data returns the driver-private data attached with SetData.
func (i *Interface) Data() any {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.data
}

// String returns "path:config.number" style identification.
func (i *Interface) String() string {
	if i.dev == nil {
		return fmt.Sprintf("?:1.%d", i.desc.Number)
	}
	return fmt.Sprintf("%s:1.%d", i.dev.path, i.desc.Number)
}

func (i *Interface) bind(d *Driver) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if i.driver != nil {
		return false
	}
	i.driver = d
	return true
}

func (i *Interface) unbind() *Driver {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	d := i.driver
	i.driver = nil
	i.suspended = false
	i.data = nil
	return d
}

func (i *Interface) setSuspended(v bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	i.suspended = v
}
