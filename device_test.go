package stts22h

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus is a scripted AsyncBus: tests flip its activity flags and payload
// between Update calls to walk the driver through a transaction.
type fakeBus struct {
	writing  bool
	reading  bool
	failed   bool
	received []byte

	writeErr error
	readErr  error

	writes     [][]byte
	stops      []bool
	readCounts []int
}

func (f *fakeBus) WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), buffer...))
	f.stops = append(f.stops, stop)
	f.writing = true
	return nil
}

func (f *fakeBus) ReadFromAddr(ctx context.Context, address byte, count int) error {
	if f.readErr != nil {
		return f.readErr
	}
	f.readCounts = append(f.readCounts, count)
	f.reading = true
	return nil
}

func (f *fakeBus) Writing() bool    { return f.writing }
func (f *fakeBus) Reading() bool    { return f.reading }
func (f *fakeBus) Failed() bool     { return f.failed }
func (f *fakeBus) Received() []byte { return f.received }

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultAddress)
	assert.ErrorIs(t, err, ErrWrongData)

	_, err = New(&fakeBus{}, 0)
	assert.ErrorIs(t, err, ErrWrongData)

	dev, err := New(&fakeBus{}, DefaultAddress)
	require.NoError(t, err)
	assert.Equal(t, float32(-273.15), dev.TemperatureC())
	assert.False(t, dev.Busy())
	assert.False(t, dev.Connected())
}

func TestOperations_NotInitialized(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev := &STTS22H{transport: bus, addr: DefaultAddress}

	assert.ErrorIs(t, dev.CheckConnection(ctx), ErrNotInitialized)
	assert.ErrorIs(t, dev.Configure(ctx, 0), ErrNotInitialized)
	assert.ErrorIs(t, dev.SetLimits(ctx, 0, 50, true), ErrNotInitialized)
	assert.ErrorIs(t, dev.Measure(ctx), ErrNotInitialized)
	assert.Empty(t, bus.writes, "no bus I/O before initialization")
	assert.Empty(t, bus.readCounts)
}

func TestCheckConnection(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.CheckConnection(ctx))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, []byte{regWhoAmI}, bus.writes[0])
	assert.False(t, bus.stops[0], "bus stays claimed for the read half")
	assert.True(t, dev.Busy())

	// address write completed, update issues the one byte read
	bus.writing = false
	dev.Update(ctx)
	require.Equal(t, []int{1}, bus.readCounts)

	bus.reading = false
	bus.received = []byte{whoAmIValue}
	dev.Update(ctx)
	assert.False(t, dev.Busy())
	assert.True(t, dev.Connected())
	assert.NoError(t, dev.LastError())
}

func TestCheckConnection_WrongIdentity(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.CheckConnection(ctx))
	bus.writing = false
	dev.Update(ctx)
	bus.reading = false
	bus.received = []byte{0xFF}
	dev.Update(ctx)
	assert.False(t, dev.Connected())
}

func TestTriggering_WhileBusy(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.Measure(ctx))
	assert.ErrorIs(t, dev.Measure(ctx), ErrBusy)
	assert.ErrorIs(t, dev.CheckConnection(ctx), ErrBusy)

	// in-flight bookkeeping untouched by the rejected calls
	assert.Equal(t, regStatus, dev.pendingReg)
	assert.Equal(t, 3, dev.pendingLen)
	require.Len(t, bus.writes, 1)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	var ctrl Control
	ctrl.SetFreerun(true)
	ctrl.SetAveraging(Avg50Hz)
	require.NoError(t, dev.Configure(ctx, ctrl))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, []byte{regCtrl, byte(ctrl)}, bus.writes[0])
	assert.True(t, bus.stops[0])
	assert.Equal(t, ctrl, dev.Settings())

	// write-only operation, the transaction slot stays free
	assert.False(t, dev.Busy())
}

func TestConfigure_TransportError(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{writeErr: ErrBusBusy}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	var ctrl Control
	ctrl.SetOneShot(true)
	err = dev.Configure(ctx, ctrl)
	assert.ErrorIs(t, err, ErrBusBusy)
	assert.Equal(t, Control(0), dev.Settings(), "cache untouched on failure")
}

func TestSetLimits(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.SetLimits(ctx, -10.0, 45.0, true))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, []byte{regTempHighLimit, thresholdCode(45.0), thresholdCode(-10.0)}, bus.writes[0])
	assert.True(t, bus.stops[0])

	// disabling writes zeros to both limit registers
	require.NoError(t, dev.SetLimits(ctx, -10.0, 45.0, false))
	require.Len(t, bus.writes, 2)
	assert.Equal(t, []byte{regTempHighLimit, 0, 0}, bus.writes[1])
}

func TestSetLimits_OutOfRange(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	assert.ErrorIs(t, dev.SetLimits(ctx, -40.0, 45.0, true), ErrWrongData)
	assert.ErrorIs(t, dev.SetLimits(ctx, -10.0, 123.0, true), ErrWrongData)
	assert.Empty(t, bus.writes, "range check happens before any bus I/O")
}

func TestUpdate_Measurement(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.Measure(ctx))
	require.Len(t, bus.writes, 1)
	assert.Equal(t, []byte{regStatus}, bus.writes[0])

	// transport still transmitting the register address
	dev.Update(ctx)
	assert.Empty(t, bus.readCounts)

	bus.writing = false
	dev.Update(ctx)
	require.Equal(t, []int{3}, bus.readCounts)
	assert.True(t, dev.Busy())

	// transport still receiving
	dev.Update(ctx)
	assert.True(t, dev.Busy())

	bus.reading = false
	bus.received = []byte{0x00, 0x90, 0x01}
	dev.Update(ctx)
	assert.False(t, dev.Busy())
	assert.Equal(t, float32(4.00), dev.TemperatureC())
	assert.Equal(t, float32(39.2), dev.TemperatureF())
}

func TestUpdate_ReadPhaseFailure(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	// establish a known reading first
	require.NoError(t, dev.Measure(ctx))
	bus.writing = false
	dev.Update(ctx)
	bus.reading = false
	bus.received = []byte{0x00, 0xC4, 0x09}
	dev.Update(ctx)
	require.Equal(t, float32(25.00), dev.TemperatureC())

	// second transaction fails on the wire during the read half
	require.NoError(t, dev.Measure(ctx))
	bus.writing = false
	dev.Update(ctx)
	bus.reading = false
	bus.failed = true
	bus.received = []byte{0x00, 0xFF, 0x7F}
	dev.Update(ctx)

	assert.False(t, dev.Busy(), "device returns to idle")
	assert.Equal(t, float32(25.00), dev.TemperatureC(), "stale reading preserved")
	assert.Error(t, dev.LastError())

	// the device accepts a retry straight away
	bus.failed = false
	assert.NoError(t, dev.Measure(ctx))
}

func TestUpdate_ReadRequestFailure(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.CheckConnection(ctx))
	bus.writing = false
	bus.readErr = ErrBusBusy
	dev.Update(ctx)

	assert.False(t, dev.Busy(), "aborted transaction frees the device")
	assert.False(t, dev.Connected())
	assert.ErrorIs(t, dev.LastError(), ErrBusBusy)
}

func TestUpdate_ConversionInProgress(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.Measure(ctx))
	bus.writing = false
	dev.Update(ctx)
	bus.reading = false
	// busy bit set: flags are cached but the reading is not trusted
	bus.received = []byte{0x03, 0x90, 0x01}
	dev.Update(ctx)

	assert.Equal(t, Status(0x03), dev.Flags())
	assert.True(t, dev.Overheated())
	assert.Equal(t, float32(-273.15), dev.TemperatureC(), "temperature not overwritten")
}

func TestStatusFlags(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	dev, err := New(bus, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.Measure(ctx))
	bus.writing = false
	dev.Update(ctx)
	bus.reading = false
	bus.received = []byte{0x04, 0x00, 0x00}
	dev.Update(ctx)

	assert.False(t, dev.Overheated())
	assert.True(t, dev.Overcooled())
	assert.Equal(t, float32(0.0), dev.TemperatureC())
}
