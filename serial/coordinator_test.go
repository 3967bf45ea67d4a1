package serial

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbserial/bus"
	"github.com/ardnew/usbserial/pkg"
)

// =============================================================================
// Recording collaborators for testing
// =============================================================================

// callLog implements Bus and Registry, forwarding to a real bus and core
// while recording every call in order.
type callLog struct {
	bus  *bus.Bus
	core *Core

	drivers []*Driver
	calls   []string

	failBus    error
	failSub    map[int]error
	failAttach error

	// tableAtSubRegister records, per sub_register call, whether the
	// handle already had a match table.
	tableAtSubRegister []bool
}

func newCallLog(drivers []*Driver) *callLog {
	return &callLog{
		bus:     bus.New(),
		core:    NewCore(),
		drivers: drivers,
		failSub: make(map[int]error),
	}
}

func (l *callLog) index(d *Driver) int {
	for i, r := range l.drivers {
		if r == d {
			return i
		}
	}
	return -1
}

func (l *callLog) Register(d *bus.Driver) error {
	if l.failBus != nil {
		l.calls = append(l.calls, "bus_register[fail]")
		return l.failBus
	}
	l.calls = append(l.calls, "bus_register")
	return l.bus.Register(d)
}

func (l *callLog) Deregister(d *bus.Driver) {
	l.calls = append(l.calls, "bus_deregister")
	l.bus.Deregister(d)
}

func (l *callLog) InstallIDTable(d *bus.Driver, t bus.IDTable) {
	l.calls = append(l.calls, "match_table_install")
	l.bus.InstallIDTable(d, t)
}

func (l *callLog) Attach(d *bus.Driver) error {
	l.calls = append(l.calls, "trigger_match")
	if l.failAttach != nil {
		return l.failAttach
	}
	return l.bus.Attach(d)
}

// registry returns the Registry view of the log.
func (l *callLog) registry() Registry {
	return subRegistry{l}
}

type subRegistry struct{ l *callLog }

func (r subRegistry) Register(d *Driver) error {
	i := r.l.index(d)
	if err := r.l.failSub[i]; err != nil {
		r.l.calls = append(r.l.calls, fmt.Sprintf("sub_register(%d)[fail]", i))
		return err
	}
	r.l.calls = append(r.l.calls, fmt.Sprintf("sub_register(%d)", i))
	if h := d.Handle(); h != nil {
		r.l.tableAtSubRegister = append(r.l.tableAtSubRegister, h.IDTable() != nil)
	}
	return r.l.core.Register(d)
}

func (r subRegistry) Deregister(d *Driver) {
	r.l.calls = append(r.l.calls, fmt.Sprintf("sub_deregister(%d)", r.l.index(d)))
	r.l.core.Deregister(d)
}

func newSubDrivers(n int) []*Driver {
	out := make([]*Driver, n)
	for i := range out {
		out[i] = &Driver{
			Name:    fmt.Sprintf("sub%d", i),
			IDTable: bus.IDTable{bus.ID(0x1000, uint16(i))},
		}
	}
	return out
}

func combinedTable(drivers []*Driver) bus.IDTable {
	var t bus.IDTable
	for _, d := range drivers {
		t = t.Merge(d.IDTable)
	}
	return t
}

func newTestCoordinator(t *testing.T, l *callLog, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithCore(l.core), WithRegistry(l.registry())}, opts...)
	c, err := NewCoordinator(l, opts...)
	require.NoError(t, err)
	return c
}

// =============================================================================
// End-to-end scenarios
// =============================================================================

func TestRegisterDrivers_AllSucceed(t *testing.T) {
	drivers := newSubDrivers(3)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	table := combinedTable(drivers)
	h, err := c.RegisterDrivers(context.Background(), drivers, "usbserial_test", table)
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, []string{
		"bus_register",
		"sub_register(0)",
		"sub_register(1)",
		"sub_register(2)",
		"match_table_install",
		"trigger_match",
	}, l.calls)

	assert.Equal(t, "usbserial_test", h.Name())
	assert.Equal(t, table, h.IDTable())
	assert.NotEqual(t, uuid.Nil, h.ID())
	assert.True(t, l.bus.IsRegistered(h.Driver()))
	assert.Len(t, l.core.Drivers(), 3)
	assert.Equal(t, []*Handle{h}, c.Handles())
}

func TestRegisterDrivers_SubDriverFails(t *testing.T) {
	drivers := newSubDrivers(3)
	l := newCallLog(drivers)
	l.failSub[1] = errors.New("probe table rejected")
	c := newTestCoordinator(t, l)

	h, err := c.RegisterDrivers(context.Background(), drivers, "usbserial_test", combinedTable(drivers))
	require.Error(t, err)
	assert.Nil(t, h)

	assert.Equal(t, []string{
		"bus_register",
		"sub_register(0)",
		"sub_register(1)[fail]",
		"sub_deregister(0)",
		"bus_deregister",
	}, l.calls)
	assert.NotContains(t, l.calls, "match_table_install")

	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindSubDriverRegistration, re.Kind)
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, "sub1", re.Driver)
	assert.ErrorIs(t, err, ErrSubDriverRegistration)
	assert.ErrorIs(t, err, l.failSub[1])
	assert.Empty(t, c.Handles())
}

func TestDeregisterDrivers_AfterSuccess(t *testing.T) {
	drivers := newSubDrivers(3)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	h, err := c.RegisterDrivers(context.Background(), drivers, "usbserial_test", combinedTable(drivers))
	require.NoError(t, err)

	l.calls = nil
	require.NoError(t, c.DeregisterDrivers(context.Background(), drivers))
	assert.Equal(t, []string{
		"sub_deregister(0)",
		"sub_deregister(1)",
		"sub_deregister(2)",
		"bus_deregister",
	}, l.calls)

	assert.False(t, l.bus.IsRegistered(h.Driver()))
	assert.Empty(t, l.core.Drivers())
	assert.Empty(t, c.Handles())
	for _, d := range drivers {
		assert.Nil(t, d.Handle())
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestRegisterDrivers_Atomicity(t *testing.T) {
	for n := 1; n <= 5; n++ {
		for i := 0; i < n; i++ {
			t.Run(fmt.Sprintf("n=%d/fail=%d", n, i), func(t *testing.T) {
				drivers := newSubDrivers(n)
				l := newCallLog(drivers)
				l.failSub[i] = errors.New("injected")
				c := newTestCoordinator(t, l)

				_, err := c.RegisterDrivers(context.Background(), drivers, "atomic", combinedTable(drivers))
				require.ErrorIs(t, err, ErrSubDriverRegistration)

				assert.Empty(t, l.bus.Drivers(), "bus handles left registered")
				assert.Empty(t, l.core.Drivers(), "sub-drivers left registered")
				for _, d := range drivers {
					assert.Nil(t, d.Handle(), "back-reference left on %s", d.Name)
				}
			})
		}
	}
}

func TestRegisterDrivers_RollbackOrder(t *testing.T) {
	drivers := newSubDrivers(5)
	l := newCallLog(drivers)
	l.failSub[3] = errors.New("injected")
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "order", combinedTable(drivers))
	require.Error(t, err)

	var unwound []string
	for _, call := range l.calls {
		if len(call) > len("sub_deregister") && call[:len("sub_deregister")] == "sub_deregister" {
			unwound = append(unwound, call)
		}
	}
	assert.Equal(t, []string{"sub_deregister(2)", "sub_deregister(1)", "sub_deregister(0)"}, unwound)
	assert.Equal(t, "bus_deregister", l.calls[len(l.calls)-1])
}

func TestRegisterDrivers_DeferredMatching(t *testing.T) {
	drivers := newSubDrivers(4)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "deferred", combinedTable(drivers))
	require.NoError(t, err)

	lastSub, install := -1, -1
	for i, call := range l.calls {
		switch {
		case call == "match_table_install":
			install = i
		case len(call) > 12 && call[:12] == "sub_register":
			lastSub = i
		}
	}
	require.NotEqual(t, -1, install)
	assert.Greater(t, install, lastSub)
	assert.Equal(t, []bool{false, false, false, false}, l.tableAtSubRegister)
}

func TestRegisterDrivers_SharedHandle(t *testing.T) {
	drivers := newSubDrivers(3)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	h, err := c.RegisterDrivers(context.Background(), drivers, "shared", combinedTable(drivers))
	require.NoError(t, err)
	for _, d := range drivers {
		assert.Same(t, h.Driver(), d.Handle())
	}
}

func TestRegisterDrivers_EmptySet(t *testing.T) {
	l := newCallLog(nil)
	c := newTestCoordinator(t, l)

	h, err := c.RegisterDrivers(context.Background(), nil, "empty", nil)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrEmptySet)
	assert.Empty(t, l.calls)

	_, err = c.RegisterDrivers(context.Background(), []*Driver{}, "empty", nil)
	assert.ErrorIs(t, err, ErrEmptySet)
	assert.Empty(t, l.calls)
}

// =============================================================================
// Failure paths
// =============================================================================

func TestRegisterDrivers_AllocationFailure(t *testing.T) {
	cause := errors.New("entropy exhausted")
	uuid.SetRand(iotest.ErrReader(cause))
	defer uuid.SetRand(nil)

	drivers := newSubDrivers(2)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "alloc", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkg.ErrNoMemory)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, l.calls)

	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindAllocation, re.Kind)
}

func TestRegisterDrivers_InvalidName(t *testing.T) {
	drivers := newSubDrivers(1)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "", nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	assert.Empty(t, l.calls)
}

func TestRegisterDrivers_BusRejectsHandle(t *testing.T) {
	drivers := newSubDrivers(2)
	l := newCallLog(drivers)
	l.failBus = errors.New("name taken")
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "rejected", nil)
	assert.ErrorIs(t, err, ErrBusRegistration)
	assert.ErrorIs(t, err, l.failBus)
	assert.Equal(t, []string{"bus_register[fail]"}, l.calls)
	for _, d := range drivers {
		assert.Nil(t, d.Handle())
	}
}

func TestRegisterDrivers_NilEntry(t *testing.T) {
	drivers := newSubDrivers(3)
	drivers[1] = nil
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "holes", nil)
	require.ErrorIs(t, err, pkg.ErrInvalidParameter)

	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, []string{"bus_register", "sub_register(0)", "sub_deregister(0)", "bus_deregister"}, l.calls)
	assert.Nil(t, drivers[0].Handle())
}

func TestRegisterDrivers_DuplicateDescriptor(t *testing.T) {
	d := &Driver{Name: "dup", IDTable: bus.IDTable{bus.ID(1, 1)}}
	drivers := []*Driver{d, d}
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "dups", nil)
	require.ErrorIs(t, err, pkg.ErrAlreadyBound)
	assert.Nil(t, d.Handle())
	assert.Empty(t, l.core.Drivers())
}

func TestRegisterDrivers_DescriptorOwnedByOtherSet(t *testing.T) {
	b := bus.New()
	core := NewCore()
	c, err := NewCoordinator(b, WithCore(core))
	require.NoError(t, err)

	shared := &Driver{Name: "shared", IDTable: bus.IDTable{bus.ID(1, 1)}}
	first, err := c.RegisterDrivers(context.Background(), []*Driver{shared}, "first", nil)
	require.NoError(t, err)

	other := &Driver{Name: "other", IDTable: bus.IDTable{bus.ID(2, 2)}}
	_, err = c.RegisterDrivers(context.Background(), []*Driver{other, shared}, "second", nil)
	require.ErrorIs(t, err, pkg.ErrAlreadyBound)

	assert.Same(t, first.Driver(), shared.Handle(), "failed set must not steal the descriptor")
	assert.Nil(t, other.Handle())
	assert.Equal(t, []*bus.Driver{first.Driver()}, b.Drivers())
	assert.Equal(t, []*Driver{shared}, core.Drivers())
}

func TestRegisterDrivers_MatchFailureTolerated(t *testing.T) {
	drivers := newSubDrivers(2)
	l := newCallLog(drivers)
	l.failAttach = errors.New("rescan failed")
	c := newTestCoordinator(t, l)

	h, err := c.RegisterDrivers(context.Background(), drivers, "lenient", combinedTable(drivers))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "trigger_match", l.calls[len(l.calls)-1])
	assert.True(t, l.bus.IsRegistered(h.Driver()))
}

func TestRegisterDrivers_ReuseAfterTeardown(t *testing.T) {
	drivers := newSubDrivers(2)
	b := bus.New()
	c, err := NewCoordinator(b)
	require.NoError(t, err)

	first, err := c.RegisterDrivers(context.Background(), drivers, "again", nil)
	require.NoError(t, err)
	require.NoError(t, c.DeregisterDrivers(context.Background(), drivers))

	second, err := c.RegisterDrivers(context.Background(), drivers, "again", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Same(t, second.Driver(), drivers[1].Handle())
}

// =============================================================================
// Teardown preconditions
// =============================================================================

func TestDeregisterDrivers_Preconditions(t *testing.T) {
	drivers := newSubDrivers(2)
	l := newCallLog(drivers)
	c := newTestCoordinator(t, l)

	_, err := c.RegisterDrivers(context.Background(), drivers, "set_a", nil)
	require.NoError(t, err)
	stranger := newSubDrivers(1)[0]
	stranger.Name = "stranger"

	tests := []struct {
		name    string
		drivers []*Driver
		wantErr error
	}{
		{"empty", nil, ErrEmptySet},
		{"nil entry", []*Driver{drivers[0], nil}, pkg.ErrInvalidParameter},
		{"never registered", []*Driver{stranger}, ErrHandleMismatch},
		{"mixed", []*Driver{drivers[0], stranger}, ErrHandleMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l.calls = nil
			err := c.DeregisterDrivers(context.Background(), tt.drivers)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, l.calls, "precondition failure must not touch collaborators")
		})
	}

	assert.Len(t, l.core.Drivers(), 2)
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	for _, opt := range []Option{
		WithCore(nil),
		WithRegistry(nil),
		WithTracerProvider(nil),
		WithMeterProvider(nil),
	} {
		_, err := NewCoordinator(bus.New(), opt)
		assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
	}

	c, err := NewCoordinator(bus.New())
	require.NoError(t, err)
	assert.NotNil(t, c.Core())
}
