package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbserial/pkg"
)

// =============================================================================
// Recording driver for testing
// =============================================================================

// recorder captures driver callbacks in call order.
type recorder struct {
	mu         sync.Mutex
	calls      []string
	probeErr   error
	suspendErr map[uint8]error
}

func (r *recorder) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) driver(name string) *Driver {
	return &Driver{
		Name: name,
		Probe: func(intf *Interface, id DeviceID) error {
			r.record("probe " + intf.String())
			return r.probeErr
		},
		Disconnect: func(intf *Interface) {
			r.record("disconnect " + intf.String())
		},
		Suspend: func(intf *Interface, msg PMMessage) error {
			r.record("suspend " + intf.String())
			return r.suspendErr[intf.Number()]
		},
		Resume: func(intf *Interface) error {
			r.record("resume " + intf.String())
			return nil
		},
	}
}

func ftdiDevice(path string) *Device {
	return NewDevice(path, DeviceDescriptor{VendorID: 0x0403, ProductID: 0x6001})
}

// =============================================================================
// Registration
// =============================================================================

func TestBus_RegisterValidation(t *testing.T) {
	b := New()

	assert.ErrorIs(t, b.Register(nil), pkg.ErrInvalidParameter)
	assert.ErrorIs(t, b.Register(&Driver{}), pkg.ErrInvalidParameter)

	d := &Driver{Name: "ftdi_sio"}
	require.NoError(t, b.Register(d))
	assert.ErrorIs(t, b.Register(d), pkg.ErrAlreadyRegistered)
	assert.ErrorIs(t, b.Register(&Driver{Name: "ftdi_sio"}), pkg.ErrAlreadyRegistered)
	assert.True(t, b.IsRegistered(d))
	assert.Equal(t, []*Driver{d}, b.Drivers())
}

func TestBus_RegisterWithoutTableMatchesNothing(t *testing.T) {
	b := New()
	rec := &recorder{}
	require.NoError(t, b.AddDevice(ftdiDevice("1-1")))

	d := rec.driver("pending")
	require.NoError(t, b.Register(d))
	assert.Empty(t, rec.log())

	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6001)})
	assert.Empty(t, rec.log(), "installing a table must not probe by itself")

	require.NoError(t, b.Attach(d))
	assert.Equal(t, []string{"probe 1-1:1.0"}, rec.log())
	assert.Len(t, b.Bound(d), 1)
}

func TestBus_RegisterWithTableProbesImmediately(t *testing.T) {
	b := New()
	rec := &recorder{}
	require.NoError(t, b.AddDevice(ftdiDevice("1-1")))

	d := rec.driver("eager")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d))

	assert.Equal(t, []string{"probe 1-1:1.0"}, rec.log())
}

func TestBus_AttachUnregistered(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Attach(&Driver{Name: "ghost"}), pkg.ErrNotRegistered)
	assert.ErrorIs(t, b.Attach(nil), pkg.ErrNotRegistered)
}

func TestBus_ProbeFailureLeavesInterfaceUnbound(t *testing.T) {
	b := New()
	rec := &recorder{probeErr: errors.New("not mine")}
	dev := ftdiDevice("1-1")
	require.NoError(t, b.AddDevice(dev))

	d := rec.driver("picky")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d))

	assert.Nil(t, dev.interfaces[0].Driver())
	assert.Empty(t, b.Bound(d))
}

func TestBus_DeregisterDisconnects(t *testing.T) {
	b := New()
	rec := &recorder{}
	dev := ftdiDevice("1-1")
	require.NoError(t, b.AddDevice(dev))

	d := rec.driver("ftdi_sio")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d))
	dev.interfaces[0].SetData("private")

	b.Deregister(d)
	assert.Equal(t, []string{"probe 1-1:1.0", "disconnect 1-1:1.0"}, rec.log())
	assert.Nil(t, dev.interfaces[0].Driver())
	assert.Nil(t, dev.interfaces[0].Data())
	assert.False(t, b.IsRegistered(d))

	// Unknown driver is ignored.
	b.Deregister(d)
	b.Deregister(nil)
}

// =============================================================================
// Hotplug
// =============================================================================

func TestBus_AddDeviceRegistrationOrder(t *testing.T) {
	b := New()
	first, second := &recorder{}, &recorder{}

	d1 := first.driver("first")
	d2 := second.driver("second")
	b.InstallIDTable(d1, IDTable{ID(0x0403, 0x6001)})
	b.InstallIDTable(d2, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d1))
	require.NoError(t, b.Register(d2))

	dev := ftdiDevice("1-1")
	require.NoError(t, b.AddDevice(dev))
	assert.Equal(t, d1, dev.interfaces[0].Driver())
	assert.Empty(t, second.log())

	assert.ErrorIs(t, b.AddDevice(ftdiDevice("1-1")), pkg.ErrAlreadyRegistered)
	assert.ErrorIs(t, b.AddDevice(nil), pkg.ErrInvalidParameter)
}

func TestBus_AddDeviceFallsThroughOnProbeFailure(t *testing.T) {
	b := New()
	first := &recorder{probeErr: errors.New("declined")}
	second := &recorder{}

	d1 := first.driver("first")
	d2 := second.driver("second")
	b.InstallIDTable(d1, IDTable{ID(0x0403, 0x6001)})
	b.InstallIDTable(d2, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d1))
	require.NoError(t, b.Register(d2))

	dev := ftdiDevice("1-1")
	require.NoError(t, b.AddDevice(dev))
	assert.Equal(t, d2, dev.interfaces[0].Driver())
}

func TestBus_RemoveDevice(t *testing.T) {
	b := New()
	rec := &recorder{}
	d := rec.driver("ftdi_sio")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6001)})
	require.NoError(t, b.Register(d))

	dev := ftdiDevice("1-1")
	require.NoError(t, b.AddDevice(dev))
	require.NoError(t, b.RemoveDevice(dev))

	assert.Equal(t, []string{"probe 1-1:1.0", "disconnect 1-1:1.0"}, rec.log())
	assert.Empty(t, b.Devices())
	assert.ErrorIs(t, b.RemoveDevice(dev), pkg.ErrNotRegistered)
}

// =============================================================================
// Dynamic IDs
// =============================================================================

func TestBus_AddDynamicID(t *testing.T) {
	b := New()
	rec := &recorder{}
	dev := NewDevice("1-1", DeviceDescriptor{VendorID: 0x1234, ProductID: 0x5678})
	require.NoError(t, b.AddDevice(dev))

	d := rec.driver("generic")
	require.NoError(t, b.Register(d))
	require.NoError(t, b.AddDynamicID(d, ID(0x1234, 0x5678)))

	assert.Equal(t, d, dev.interfaces[0].Driver())
	assert.Equal(t, IDTable{ID(0x1234, 0x5678)}, d.DynamicIDs())

	b.Deregister(d)
	assert.Empty(t, d.DynamicIDs())
}

func TestBus_AddDynamicIDRejected(t *testing.T) {
	b := New()
	d := &Driver{Name: "sealed", NoDynamicID: true}

	assert.ErrorIs(t, b.AddDynamicID(d, ID(1, 2)), pkg.ErrNotRegistered)
	require.NoError(t, b.Register(d))
	assert.ErrorIs(t, b.AddDynamicID(d, ID(1, 2)), pkg.ErrNotSupported)
	assert.ErrorIs(t, b.AddDynamicID(d, DeviceID{}), pkg.ErrInvalidParameter)
}

// =============================================================================
// Power management
// =============================================================================

func twoPortDevice() *Device {
	return NewDevice("1-4",
		DeviceDescriptor{VendorID: 0x0403, ProductID: 0x6010},
		InterfaceDescriptor{Number: 0, Class: ClassVendorSpecific},
		InterfaceDescriptor{Number: 1, Class: ClassVendorSpecific},
	)
}

func TestBus_SuspendResume(t *testing.T) {
	b := New()
	rec := &recorder{}
	d := rec.driver("ftdi_sio")
	d.SupportsAutosuspend = true
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6010)})
	require.NoError(t, b.Register(d))

	dev := twoPortDevice()
	require.NoError(t, b.AddDevice(dev))

	require.NoError(t, b.Suspend(dev, PMAutoSuspend))
	assert.True(t, dev.interfaces[0].IsSuspended())
	assert.True(t, dev.interfaces[1].IsSuspended())

	require.NoError(t, b.Resume(dev))
	assert.False(t, dev.interfaces[0].IsSuspended())
	assert.Equal(t, []string{
		"probe 1-4:1.0", "probe 1-4:1.1",
		"suspend 1-4:1.0", "suspend 1-4:1.1",
		"resume 1-4:1.0", "resume 1-4:1.1",
	}, rec.log())
}

func TestBus_AutosuspendRefused(t *testing.T) {
	b := New()
	rec := &recorder{}
	d := rec.driver("no_autopm")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6010)})
	require.NoError(t, b.Register(d))

	dev := twoPortDevice()
	require.NoError(t, b.AddDevice(dev))

	assert.ErrorIs(t, b.Suspend(dev, PMAutoSuspend), pkg.ErrBusy)
	assert.False(t, dev.interfaces[0].IsSuspended())

	require.NoError(t, b.Suspend(dev, PMSuspend))
	assert.True(t, dev.interfaces[0].IsSuspended())
}

func TestBus_SuspendFailureResumesPrevious(t *testing.T) {
	b := New()
	failure := errors.New("busy port")
	rec := &recorder{suspendErr: map[uint8]error{1: failure}}
	d := rec.driver("ftdi_sio")
	b.InstallIDTable(d, IDTable{ID(0x0403, 0x6010)})
	require.NoError(t, b.Register(d))

	dev := twoPortDevice()
	require.NoError(t, b.AddDevice(dev))

	err := b.Suspend(dev, PMSuspend)
	require.ErrorIs(t, err, failure)
	assert.False(t, dev.interfaces[0].IsSuspended())
	assert.False(t, dev.interfaces[1].IsSuspended())
	assert.Equal(t, []string{
		"probe 1-4:1.0", "probe 1-4:1.1",
		"suspend 1-4:1.0", "suspend 1-4:1.1",
		"resume 1-4:1.0",
	}, rec.log())
}
