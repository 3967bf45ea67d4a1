// Package bus implements an in-memory USB driver bus.
//
// The bus tracks devices and the drivers registered against it, and binds
// device interfaces to drivers whose match tables select them. It is the
// subsystem the serial driver core registers its composite handles with.
//
// # Matching
//
// A [Driver] advertises the interfaces it handles through an [IDTable] of
// [DeviceID] entries. Matching happens:
//
//   - when a driver is registered ([Bus.Register])
//   - when its owner requests a pass explicitly ([Bus.Attach])
//   - when a device appears ([Bus.AddDevice])
//   - when an ID is added at run time ([Bus.AddDynamicID])
//
// A registered driver with no installed table matches nothing. This lets an
// owner register a handle first and make it matchable later with
// [Bus.InstallIDTable] once everything behind it is ready.
//
// # Example
//
//	b := bus.New()
//	drv := &bus.Driver{Name: "demo", Probe: probe}
//	b.Register(drv)
//	b.InstallIDTable(drv, bus.IDTable{bus.ID(0x0403, 0x6001)})
//	b.Attach(drv)
//
//	dev := bus.NewDevice("1-1", bus.DeviceDescriptor{VendorID: 0x0403, ProductID: 0x6001})
//	b.AddDevice(dev)
package bus
