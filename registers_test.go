package stts22h

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControl_Bits(t *testing.T) {
	var ctrl Control
	ctrl.SetOneShot(true)
	ctrl.SetBDU(true)
	ctrl.SetAveraging(Avg100Hz)
	assert.Equal(t, Control(0b0110_0001), ctrl)
	assert.True(t, ctrl.OneShot())
	assert.True(t, ctrl.BDU())
	assert.Equal(t, Avg100Hz, ctrl.Averaging())
	assert.False(t, ctrl.Freerun())

	ctrl.SetOneShot(false)
	ctrl.SetFreerun(true)
	ctrl.SetLowODR(true)
	ctrl.SetAveraging(Avg25Hz)
	assert.Equal(t, Control(0b1100_0100), ctrl)
	assert.True(t, ctrl.Freerun())
	assert.True(t, ctrl.LowODR())
	assert.Equal(t, Avg25Hz, ctrl.Averaging())
}

func TestStatus_Bits(t *testing.T) {
	assert.True(t, Status(0x01).Busy())
	assert.True(t, Status(0x02).OverHighLimit())
	assert.True(t, Status(0x04).UnderLowLimit())
	assert.False(t, Status(0xF8).Busy())
	assert.False(t, Status(0xF8).OverHighLimit())
	assert.False(t, Status(0xF8).UnderLowLimit())
}

func TestThresholdCode(t *testing.T) {
	tests := []struct {
		given    float32
		expected byte
	}{
		{0.0, 63},
		{-39.5, 1},
		{122.5, 254},
		{25.0, 102},
		{-10.0, 47},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%.1f", test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, thresholdCode(test.given))
		})
	}
}

func TestThresholdCode_RoundTrip(t *testing.T) {
	// one code step is 0.64 degrees; encoding must stay within a step
	for _, value := range []float32{-39.5, -12.3, 0.0, 36.6, 90.25, 122.5} {
		code := thresholdCode(value)
		decoded := (float32(code) - 63.0) * 0.64
		assert.InDelta(t, value, decoded, 0.64, "value %.2f code %d", value, code)
	}
}

func TestConvertTemperature(t *testing.T) {
	tests := []struct {
		high, low byte
		expected  float32
	}{
		{0x00, 0x00, 0.0},
		{0x01, 0x90, 4.00},
		{0xFE, 0x70, -4.00},
		{0x09, 0xC4, 25.00},
		{0x7F, 0xFF, 327.67},
		{0x80, 0x00, -327.68},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%02x%02x", test.high, test.low), func(t *testing.T) {
			assert.Equal(t, test.expected, convertTemperature(test.high, test.low))
		})
	}
}
