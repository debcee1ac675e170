package stts22h

// Register map (datasheet DS12606 Rev7, Aug 2022)
const (
	regWhoAmI        byte = 0x01
	regTempHighLimit byte = 0x02
	regTempLowLimit  byte = 0x03
	regCtrl          byte = 0x04
	regStatus        byte = 0x05
	regTempLowOut    byte = 0x06
	regTempHighOut   byte = 0x07
)

// whoAmIValue is the fixed content of the WHOAMI register.
const whoAmIValue byte = 0xA0

// Averaging selects the number of averages per conversion. In freerun mode
// the same bits select the output data rate.
type Averaging byte

const (
	Avg25Hz Averaging = iota
	Avg50Hz
	Avg100Hz
	Avg200Hz
)

// CTRL register bit layout. Masks and shifts are spelled out so the wire
// format does not depend on compiler bit-field ordering.
const (
	ctrlOneShot    byte = 1 << 0 // single temperature acquisition
	ctrlTimeoutDis byte = 1 << 1 // disable SMBus timeout
	ctrlFreerun    byte = 1 << 2 // continuous conversion mode
	ctrlAddrInc    byte = 1 << 3 // auto-increment register address on multi-byte transfers
	ctrlAvgMask    byte = 0b11 << 4
	ctrlAvgShift        = 4
	ctrlBDU        byte = 1 << 6 // block data update (TEMP_L_OUT must be read first)
	ctrlLowODR     byte = 1 << 7 // 1Hz operating mode
)

// Control is the raw CTRL register value.
type Control byte

func (c Control) OneShot() bool { return byte(c)&ctrlOneShot != 0 }

func (c Control) TimeoutDisabled() bool { return byte(c)&ctrlTimeoutDis != 0 }

func (c Control) Freerun() bool { return byte(c)&ctrlFreerun != 0 }

func (c Control) AutoIncrement() bool { return byte(c)&ctrlAddrInc != 0 }

func (c Control) BDU() bool { return byte(c)&ctrlBDU != 0 }

func (c Control) LowODR() bool { return byte(c)&ctrlLowODR != 0 }

func (c Control) Averaging() Averaging {
	return Averaging((byte(c) & ctrlAvgMask) >> ctrlAvgShift)
}

func (c *Control) SetOneShot(on bool) { c.apply(ctrlOneShot, on) }

func (c *Control) SetTimeoutDisabled(on bool) { c.apply(ctrlTimeoutDis, on) }

func (c *Control) SetFreerun(on bool) { c.apply(ctrlFreerun, on) }

func (c *Control) SetAutoIncrement(on bool) { c.apply(ctrlAddrInc, on) }

func (c *Control) SetBDU(on bool) { c.apply(ctrlBDU, on) }

func (c *Control) SetLowODR(on bool) { c.apply(ctrlLowODR, on) }

func (c *Control) SetAveraging(avg Averaging) {
	*c = Control(byte(*c)&^ctrlAvgMask | byte(avg)<<ctrlAvgShift&ctrlAvgMask)
}

func (c *Control) apply(mask byte, on bool) {
	if on {
		*c = Control(byte(*c) | mask)
	} else {
		*c = Control(byte(*c) &^ mask)
	}
}

// STATUS register bit layout. The threshold bits are sticky: the device
// clears them when the register is read.
const (
	statusBusy     byte = 1 << 0 // conversion in progress
	statusOverHigh byte = 1 << 1 // high limit exceeded
	statusUnderLow byte = 1 << 2 // low limit exceeded
)

// Status is the raw STATUS register value.
type Status byte

func (s Status) Busy() bool { return byte(s)&statusBusy != 0 }

func (s Status) OverHighLimit() bool { return byte(s)&statusOverHigh != 0 }

func (s Status) UnderLowLimit() bool { return byte(s)&statusUnderLow != 0 }

// Encodable threshold range of the TEMP_H_LIMIT/TEMP_L_LIMIT registers,
// narrower than the sensor's operating range (datasheet page 18).
const (
	ThresholdMin = -39.5
	ThresholdMax = 122.5
)

// thresholdCode converts a temperature in Celsius to a limit register value
// using the datasheet mapping of 0.64 degrees per step with an offset of 63
// (datasheet page 14). The result is truncated, not rounded, matching the
// device's own decoding.
func thresholdCode(value float32) byte {
	value /= 0.64
	value += 63.0
	return byte(value)
}

// convertTemperature turns the TEMP_H_OUT/TEMP_L_OUT pair into degrees
// Celsius: a 16-bit two's complement value scaled by 1/100 (datasheet
// page 17).
func convertTemperature(high, low byte) float32 {
	raw := int16(uint16(high)<<8 | uint16(low))
	return float32(raw) / 100.0
}
