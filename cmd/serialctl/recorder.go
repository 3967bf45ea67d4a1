package main

import (
	"errors"
	"fmt"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/serial"
)

var errInjected = errors.New("injected failure")

// recorder fronts a bus and a serial core and logs every collaborator call
// the coordinator makes. Sub-drivers named in fail are refused.
type recorder struct {
	bus   *bus.Bus
	core  *serial.Core
	fail  map[string]bool
	calls []string
}

func newRecorder(b *bus.Bus, core *serial.Core, fail ...string) *recorder {
	r := &recorder{bus: b, core: core, fail: make(map[string]bool)}
	for _, name := range fail {
		if name != "" {
			r.fail[name] = true
		}
	}
	return r
}

func (r *recorder) log(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) Register(d *bus.Driver) error {
	if err := r.bus.Register(d); err != nil {
		r.log("bus_register %s [fail]", d.Name)
		return err
	}
	r.log("bus_register %s", d.Name)
	return nil
}

func (r *recorder) Deregister(d *bus.Driver) {
	r.log("bus_deregister %s", d.Name)
	r.bus.Deregister(d)
}

func (r *recorder) InstallIDTable(d *bus.Driver, t bus.IDTable) {
	r.log("match_table_install %s (%d ids)", d.Name, len(t))
	r.bus.InstallIDTable(d, t)
}

func (r *recorder) Attach(d *bus.Driver) error {
	r.log("trigger_match %s", d.Name)
	return r.bus.Attach(d)
}

// registry returns the serial.Registry side of the recorder.
func (r *recorder) registry() serial.Registry {
	return subRegistry{r}
}

type subRegistry struct{ r *recorder }

func (s subRegistry) Register(d *serial.Driver) error {
	if s.r.fail[d.Name] {
		s.r.log("sub_register %s [fail]", d.Name)
		return fmt.Errorf("register %q: %w", d.Name, errInjected)
	}
	if err := s.r.core.Register(d); err != nil {
		s.r.log("sub_register %s [fail]", d.Name)
		return err
	}
	s.r.log("sub_register %s", d.Name)
	return nil
}

func (s subRegistry) Deregister(d *serial.Driver) {
	s.r.log("sub_deregister %s", d.Name)
	s.r.core.Deregister(d)
}
