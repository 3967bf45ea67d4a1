package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// DeviceID is one match table entry. Numbers are hexadecimal strings as
// lsusb and usb.ids print them ("0403" or "0x0403"); an empty field is
// unset. Quote them in YAML: an unquoted 0403 is read as a decimal number
// before it reaches this type.
//
// An entry either names a vendor and product (optionally narrowed to one
// interface number) or an interface class triple.
type DeviceID struct {
	Vendor    string `mapstructure:"vendor"`
	Product   string `mapstructure:"product"`
	Interface string `mapstructure:"interface"`

	Class    string `mapstructure:"class"`
	SubClass string `mapstructure:"subclass"`
	Protocol string `mapstructure:"protocol"`

	DriverInfo uint64 `mapstructure:"driver_info"`
}

// DeviceID converts the entry to a bus.DeviceID.
func (d *DeviceID) DeviceID() (bus.DeviceID, error) {
	var (
		id  bus.DeviceID
		err error
	)

	switch {
	case d.Vendor != "" || d.Product != "":
		if d.Vendor == "" || d.Product == "" {
			return id, fmt.Errorf("vendor and product must be set together: %w", pkg.ErrInvalidParameter)
		}
		var vendor, product uint16
		if vendor, err = parse16(d.Vendor); err != nil {
			return id, fmt.Errorf("vendor: %w", err)
		}
		if product, err = parse16(d.Product); err != nil {
			return id, fmt.Errorf("product: %w", err)
		}
		if d.Interface == "" {
			id = bus.ID(vendor, product)
			break
		}
		num, err := parse8(d.Interface)
		if err != nil {
			return id, fmt.Errorf("interface: %w", err)
		}
		id = bus.IDInterface(vendor, product, num)

	case d.Class != "":
		var class, sub, proto uint8
		if class, err = parse8(d.Class); err != nil {
			return id, fmt.Errorf("class: %w", err)
		}
		if sub, err = parse8(or(d.SubClass, "0")); err != nil {
			return id, fmt.Errorf("subclass: %w", err)
		}
		if proto, err = parse8(or(d.Protocol, "0")); err != nil {
			return id, fmt.Errorf("protocol: %w", err)
		}
		id = bus.IDInterfaceInfo(class, sub, proto)

	default:
		return id, fmt.Errorf("entry matches nothing: %w", pkg.ErrInvalidParameter)
	}

	id.DriverInfo = d.DriverInfo
	return id, nil
}

func parse16(s string) (uint16, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, pkg.ErrInvalidParameter)
	}
	return uint16(v), nil
}

func parse8(s string) (uint8, error) {
	v, err := strconv.ParseUint(trimHex(s), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, pkg.ErrInvalidParameter)
	}
	return uint8(v), nil
}

// trimHex drops surrounding space and an optional 0x prefix.
func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ParseVIDPID parses a "vid:pid" pair such as "0403:6001". Both halves are
// hexadecimal, as in a DeviceID entry.
func ParseVIDPID(s string) (vendor, product uint16, err error) {
	v, p, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("device %q: want vid:pid: %w", s, pkg.ErrInvalidParameter)
	}
	if vendor, err = parse16(v); err != nil {
		return 0, 0, fmt.Errorf("device %q: %w", s, err)
	}
	if product, err = parse16(p); err != nil {
		return 0, 0, fmt.Errorf("device %q: %w", s, err)
	}
	return vendor, product, nil
}
