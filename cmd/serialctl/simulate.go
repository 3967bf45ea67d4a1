package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/config"
	"github.com/ardnew/usbserial/internal/usbid"
	"github.com/ardnew/usbserial/pkg"
	"github.com/ardnew/usbserial/serial"
)

type report struct {
	Sets    []setReport    `json:"sets"`
	Devices []deviceReport `json:"devices"`
	Calls   []string       `json:"calls"`
}

type setReport struct {
	Name     string   `json:"name"`
	HandleID string   `json:"handle_id,omitempty"`
	Table    []string `json:"table"`
	Error    string   `json:"error,omitempty"`
}

type deviceReport struct {
	Path       string          `json:"path"`
	ID         string          `json:"id"`
	Name       string          `json:"name,omitempty"`
	Interfaces []bindingReport `json:"interfaces"`
}

type bindingReport struct {
	Interface string `json:"interface"`
	Handle    string `json:"handle,omitempty"`
	SubDriver string `json:"sub_driver,omitempty"`
	Ports     int    `json:"ports,omitempty"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Bring every driver set up on an in-memory bus, plug devices, and tear down.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			devices, _ := cmd.Flags().GetStringSlice("device")
			fail, _ := cmd.Flags().GetStringSlice("fail")
			asJSON, _ := cmd.Flags().GetBool("json")
			idsPath, _ := cmd.Flags().GetString("usb-ids")

			names, err := openNames(idsPath)
			if err != nil {
				return err
			}

			rep, err := simulate(cmd, c, devices, fail, names)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			writeText(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	cmd.Flags().StringSliceP("device", "d", nil, "plug a device given as vid:pid (repeatable)")
	cmd.Flags().StringSlice("fail", nil, "refuse registration of the named sub-driver (repeatable)")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	cmd.Flags().String("usb-ids", "", "usb.ids file for device names (default: search system paths)")
	return cmd
}

// openNames loads device names from path. Without a path the system
// database is optional.
func openNames(path string) (*usbid.Names, error) {
	var paths []string
	if path != "" {
		paths = []string{path}
	}
	names, used, err := usbid.Open(paths...)
	if errors.Is(err, usbid.ErrNotFound) && path == "" {
		pkg.LogDebug(component, "no usb.ids database, devices are unnamed")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	vendors, products := names.Len()
	pkg.LogDebug(component, "usb.ids loaded",
		"file", used,
		"vendors", vendors,
		"products", products)
	return names, nil
}

type liveSet struct {
	name    string
	drivers []*serial.Driver
}

// simulation is one in-memory bus with a coordinator whose collaborator
// calls are recorded.
type simulation struct {
	bus   *bus.Bus
	core  *serial.Core
	rec   *recorder
	coord *serial.Coordinator
}

func newSimulation(fail []string) (*simulation, error) {
	b := bus.New()
	core := serial.NewCore()
	rec := newRecorder(b, core, fail...)

	coord, err := serial.NewCoordinator(rec,
		serial.WithCore(core),
		serial.WithRegistry(rec.registry()))
	if err != nil {
		return nil, err
	}
	return &simulation{bus: b, core: core, rec: rec, coord: coord}, nil
}

func simulate(cmd *cobra.Command, c *config.Config, devices, fail []string, names *usbid.Names) (*report, error) {
	sim, err := newSimulation(fail)
	if err != nil {
		return nil, err
	}
	return sim.run(cmd.Context(), c, devices, names)
}

// run brings every set up, plugs devices, and tears down every set that
// came up, including when plugging fails. Device strings are parsed before
// any set is registered.
func (sim *simulation) run(ctx context.Context, c *config.Config, devices []string, names *usbid.Names) (rep *report, err error) {
	plugged := make([]*bus.Device, 0, len(devices))
	for i, spec := range devices {
		vendor, product, err := config.ParseVIDPID(spec)
		if err != nil {
			return nil, err
		}
		plugged = append(plugged, bus.NewDevice(fmt.Sprintf("1-%d", i+1), bus.DeviceDescriptor{
			VendorID:  vendor,
			ProductID: product,
		}))
	}

	type setup struct {
		name    string
		drivers []*serial.Driver
		table   bus.IDTable
	}
	sets := make([]setup, 0, len(c.Drivers))
	for _, set := range c.Drivers {
		drivers, err := set.Descriptors()
		if err != nil {
			return nil, err
		}
		table, err := set.IDTable()
		if err != nil {
			return nil, err
		}
		sets = append(sets, setup{name: set.Name, drivers: drivers, table: table})
	}

	rep = &report{}
	var live []liveSet
	defer func() {
		for i := len(live) - 1; i >= 0; i-- {
			if derr := sim.coord.DeregisterDrivers(ctx, live[i].drivers); derr != nil {
				err = errors.Join(err, fmt.Errorf("tear down %q: %w", live[i].name, derr))
			}
		}
		if err != nil {
			rep = nil
			return
		}
		rep.Calls = sim.rec.calls
	}()

	for _, set := range sets {
		sr := setReport{Name: set.name}
		for _, id := range set.table {
			sr.Table = append(sr.Table, id.String())
		}

		h, err := sim.coord.RegisterDrivers(ctx, set.drivers, set.name, set.table)
		if err != nil {
			pkg.LogWarn(component, "driver set not registered", "set", set.name, "error", err)
			sr.Error = err.Error()
		} else {
			sr.HandleID = h.ID().String()
			live = append(live, liveSet{name: set.name, drivers: set.drivers})
		}
		rep.Sets = append(rep.Sets, sr)
	}

	for _, dev := range plugged {
		if err := sim.bus.AddDevice(dev); err != nil {
			return nil, err
		}
	}

	for _, dev := range plugged {
		dr := deviceReport{
			Path: dev.Path(),
			ID:   fmt.Sprintf("%04x:%04x", dev.VendorID(), dev.ProductID()),
			Name: names.Describe(dev.VendorID(), dev.ProductID()),
		}
		for _, intf := range dev.Interfaces() {
			br := bindingReport{Interface: intf.String()}
			if d := intf.Driver(); d != nil {
				br.Handle = d.Name
			}
			if s := sim.core.Serial(intf); s != nil {
				br.SubDriver = s.Driver().Name
				br.Ports = s.NumPorts()
			}
			dr.Interfaces = append(dr.Interfaces, br)
		}
		rep.Devices = append(rep.Devices, dr)
	}
	return rep, nil
}

func writeJSON(w io.Writer, rep *report) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func writeText(w io.Writer, rep *report) {
	fmt.Fprintln(w, "sets:")
	for _, s := range rep.Sets {
		if s.Error != "" {
			fmt.Fprintf(w, "  %s: FAILED: %s\n", s.Name, s.Error)
			continue
		}
		fmt.Fprintf(w, "  %s: handle %s\n", s.Name, s.HandleID)
	}

	fmt.Fprintln(w, "devices:")
	for _, d := range rep.Devices {
		if d.Name != "" {
			fmt.Fprintf(w, "  %s %s %s\n", d.Path, d.ID, d.Name)
		} else {
			fmt.Fprintf(w, "  %s %s\n", d.Path, d.ID)
		}
		for _, b := range d.Interfaces {
			if b.Handle == "" {
				fmt.Fprintf(w, "    %s: unbound\n", b.Interface)
				continue
			}
			fmt.Fprintf(w, "    %s: %s/%s ports=%d\n", b.Interface, b.Handle, b.SubDriver, b.Ports)
		}
	}

	fmt.Fprintln(w, "calls:")
	for _, c := range rep.Calls {
		fmt.Fprintf(w, "  %s\n", c)
	}
}
