package stts22h

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runTransaction polls Update until the device goes idle, with a hard cap
// so a broken state machine cannot hang the test.
func runTransaction(t *testing.T, ctx context.Context, dev *STTS22H) {
	t.Helper()
	for i := 0; i < 100; i++ {
		dev.Update(ctx)
		if !dev.Busy() {
			return
		}
	}
	t.Fatal("transaction did not complete")
}

func TestSimBus_ConnectionCheck(t *testing.T) {
	ctx := context.Background()
	sim := NewSimBus(DefaultAddress)
	dev, err := New(sim, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.CheckConnection(ctx))
	runTransaction(t, ctx, dev)
	assert.True(t, dev.Connected())
}

func TestSimBus_WrongAddress(t *testing.T) {
	ctx := context.Background()
	sim := NewSimBus(DefaultAddress)
	dev, err := New(sim, 0x38)
	require.NoError(t, err)

	require.NoError(t, dev.CheckConnection(ctx))
	runTransaction(t, ctx, dev)
	assert.False(t, dev.Connected())
	assert.Error(t, dev.LastError())
}

func TestSimBus_OneShotMeasurement(t *testing.T) {
	ctx := context.Background()
	sim := NewSimBus(DefaultAddress)
	sim.SetTemperature(36.6)
	dev, err := New(sim, DefaultAddress)
	require.NoError(t, err)

	var ctrl Control
	ctrl.SetOneShot(true)
	ctrl.SetBDU(true)
	require.NoError(t, dev.Configure(ctx, ctrl))
	for sim.Writing() {
	}

	// the first status read catches the conversion mid-flight
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.True(t, dev.Flags().Busy())
	assert.Equal(t, float32(-273.15), dev.TemperatureC())

	// the second one delivers the reading
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.False(t, dev.Flags().Busy())
	assert.InDelta(t, 36.6, dev.TemperatureC(), 0.005)
}

func TestSimBus_ThresholdFlags(t *testing.T) {
	ctx := context.Background()
	sim := NewSimBus(DefaultAddress)
	dev, err := New(sim, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.SetLimits(ctx, 10.0, 30.0, true))
	for sim.Writing() {
	}

	sim.SetTemperature(42.0)
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.True(t, dev.Overheated())
	assert.False(t, dev.Overcooled())

	// sticky bit was cleared by the previous status read
	sim.SetTemperature(20.0)
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.False(t, dev.Overheated())
	assert.False(t, dev.Overcooled())

	sim.SetTemperature(3.5)
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.True(t, dev.Overcooled())
}

func TestSimBus_TransferFailure(t *testing.T) {
	ctx := context.Background()
	sim := NewSimBus(DefaultAddress)
	sim.SetTemperature(25.0)
	dev, err := New(sim, DefaultAddress)
	require.NoError(t, err)

	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	require.Equal(t, float32(25.0), dev.TemperatureC())

	sim.SetTemperature(99.0)
	sim.FailNextRead()
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.Equal(t, float32(25.0), dev.TemperatureC(), "failed transfer keeps the old reading")
	assert.Error(t, dev.LastError())

	// retry succeeds
	require.NoError(t, dev.Measure(ctx))
	runTransaction(t, ctx, dev)
	assert.Equal(t, float32(99.0), dev.TemperatureC())
	assert.NoError(t, dev.LastError())
}
