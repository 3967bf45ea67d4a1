package config

import (
	"fmt"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/serial"
)

// Config is the root of a usbserial configuration file.
type Config struct {
	// Log configures the pkg logger.
	Log Log `mapstructure:"log"`

	// Drivers lists the composite driver sets to bring up, in order.
	Drivers []*DriverSet `mapstructure:"drivers" validate:"required,min=1,dive,required"`
}

// Log is the logging section.
type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Apply configures the pkg logger from the section.
func (l Log) Apply() error {
	level, err := pkg.ParseLogLevel(l.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(l.Format)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	return nil
}

// DriverSet is one composite driver: a bus handle name and the sub-drivers
// it fronts.
type DriverSet struct {
	Name       string       `mapstructure:"name" validate:"required"`
	SubDrivers []*SubDriver `mapstructure:"sub_drivers" validate:"required,min=1,dive,required"`
}

// IDTable returns the union of the sub-driver tables, in declaration order.
func (s *DriverSet) IDTable() (bus.IDTable, error) {
	var t bus.IDTable
	for _, sd := range s.SubDrivers {
		st, err := sd.IDTable()
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", s.Name, err)
		}
		t = t.Merge(st)
	}
	return t, nil
}

// Descriptors builds one serial.Driver per sub-driver. The returned
// descriptors have no hooks; callers attach their own.
func (s *DriverSet) Descriptors() ([]*serial.Driver, error) {
	out := make([]*serial.Driver, 0, len(s.SubDrivers))
	for _, sd := range s.SubDrivers {
		t, err := sd.IDTable()
		if err != nil {
			return nil, fmt.Errorf("set %q: %w", s.Name, err)
		}
		out = append(out, &serial.Driver{
			Name:        sd.Name,
			Description: sd.Description,
			IDTable:     t,
			NumPorts:    sd.NumPorts,
		})
	}
	return out, nil
}

// SubDriver describes a single sub-driver of a set.
type SubDriver struct {
	Name        string      `mapstructure:"name" validate:"required"`
	Description string      `mapstructure:"description"`
	NumPorts    int         `mapstructure:"num_ports" validate:"min=1,max=16"`
	IDs         []*DeviceID `mapstructure:"ids" validate:"required,min=1,dive,required"`
}

// IDTable converts the sub-driver's ID entries.
func (s *SubDriver) IDTable() (bus.IDTable, error) {
	t := make(bus.IDTable, 0, len(s.IDs))
	for i, id := range s.IDs {
		did, err := id.DeviceID()
		if err != nil {
			return nil, fmt.Errorf("sub-driver %q id %d: %w", s.Name, i, err)
		}
		t = append(t, did)
	}
	return t, nil
}
