package stts22h

import (
	"context"
	"fmt"
)

// DefaultAddress is the 7-bit bus address with the ADDR pin tied to ground.
const DefaultAddress byte = 0x3F

// absoluteZero is the cached temperature before the first successful read.
const absoluteZero float32 = -273.15

// txPhase tracks where an in-flight transaction is. A transaction is one
// register-address write followed by one multi-byte read.
type txPhase int

const (
	phaseIdle      txPhase = iota
	phaseAddressed         // address write handed to the bus engine
	phaseReading           // data read handed to the bus engine
)

// STTS22H represents an ST STTS22H digital temperature sensor on a shared
// I2C bus. The driver never blocks: triggering operations only start a
// transaction and Update has to be called periodically to advance it. At
// most one transaction is in flight per device.
//
// Typical usage:
//
//	dev, err := stts22h.New(bus, stts22h.DefaultAddress)
//	...
//	err = dev.Measure(ctx)
//	for dev.Busy() {
//		dev.Update(ctx)
//	}
//	temp := dev.TemperatureC()
//
// The transport is borrowed, not owned; the driver assumes exclusive use of
// it while a transaction is in flight but its lifetime belongs to the
// caller.
type STTS22H struct {
	transport AsyncBus
	addr      byte

	initialized bool
	connected   bool

	phase      txPhase
	pendingReg byte
	pendingLen int
	lastErr    error

	control Control
	status  Status
	temp    float32
}

// New binds a device descriptor to a bus transport and a 7-bit address. No
// bus I/O happens here; use CheckConnection to verify the sensor responds.
func New(transport AsyncBus, addr byte) (*STTS22H, error) {
	if transport == nil || addr == 0 {
		return nil, ErrWrongData
	}
	return &STTS22H{
		transport:   transport,
		addr:        addr,
		initialized: true,
		temp:        absoluteZero,
	}, nil
}

// CheckConnection starts a WHOAMI read to verify the sensor answers on the
// bus. It returns as soon as the address write is handed to the bus engine;
// the result becomes visible through Connected once Update has driven the
// transaction to completion.
func (d *STTS22H) CheckConnection(ctx context.Context) error {
	return d.startRead(ctx, regWhoAmI, 1)
}

// Connected reports the result of the last completed connection check.
func (d *STTS22H) Connected() bool {
	return d.connected
}

// Configure writes the CTRL register. This is a plain write with no read
// half, so it completes synchronously from the driver's point of view and
// does not occupy the transaction slot. The value is cached on success.
func (d *STTS22H) Configure(ctx context.Context, ctrl Control) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	err := d.transport.WriteToAddr(ctx, d.addr, []byte{regCtrl, byte(ctrl)}, true)
	if err != nil {
		return fmt.Errorf("could not write control register: %w", err)
	}
	d.control = ctrl
	return nil
}

// Settings returns the last successfully written CTRL register value.
func (d *STTS22H) Settings() Control {
	return d.control
}

// SetLimits programs the two temperature interrupt thresholds in a single
// transfer. With enable false both limit registers are written to zero,
// which turns the interrupts off. Bounds must stay within
// [ThresholdMin, ThresholdMax], the encodable range of the limit registers.
func (d *STTS22H) SetLimits(ctx context.Context, minTemp, maxTemp float32, enable bool) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	if minTemp < ThresholdMin || maxTemp > ThresholdMax {
		return ErrWrongData
	}
	buffer := []byte{regTempHighLimit, 0, 0}
	if enable {
		buffer[1] = thresholdCode(maxTemp)
		buffer[2] = thresholdCode(minTemp)
	}
	err := d.transport.WriteToAddr(ctx, d.addr, buffer, true)
	if err != nil {
		return fmt.Errorf("could not write limit registers: %w", err)
	}
	return nil
}

// Measure starts a read of the STATUS register and the two temperature
// output registers. Like CheckConnection it only issues the address write;
// poll Update until Busy turns false, then read the result through
// TemperatureC or TemperatureF.
func (d *STTS22H) Measure(ctx context.Context) error {
	return d.startRead(ctx, regStatus, 3)
}

// Busy reports whether a transaction is currently in flight.
func (d *STTS22H) Busy() bool {
	return d.phase != phaseIdle
}

// TemperatureC returns the last decoded temperature in degrees Celsius, or
// the absolute-zero sentinel before the first successful measurement.
func (d *STTS22H) TemperatureC() float32 {
	return d.temp
}

// TemperatureF returns the last decoded temperature in degrees Fahrenheit.
func (d *STTS22H) TemperatureF() float32 {
	return 32.0 + d.temp*9.0/5.0
}

// Flags returns the last cached STATUS register value.
func (d *STTS22H) Flags() Status {
	return d.status
}

// Overheated reports whether the last status read had the high-limit bit
// set. The bit is sticky on the device and clears on the next status read.
func (d *STTS22H) Overheated() bool {
	return d.status.OverHighLimit()
}

// Overcooled reports whether the last status read had the low-limit bit
// set.
func (d *STTS22H) Overcooled() bool {
	return d.status.UnderLowLimit()
}

// LastError returns the transport error that aborted the most recent
// transaction during the update cycle, or nil if it completed. The
// triggering call never sees these failures; cached readings stay untouched
// and the caller simply retries.
func (d *STTS22H) LastError() error {
	return d.lastErr
}

// Update advances the in-flight transaction. It must be invoked repeatedly
// and returns immediately when there is nothing to do or the bus engine is
// still moving bytes. Once the engine is idle it either issues the read
// half or consumes the completed read, after which the device is ready for
// the next operation.
func (d *STTS22H) Update(ctx context.Context) {
	if !d.initialized || d.phase == phaseIdle {
		return
	}
	if d.transport.Writing() || d.transport.Reading() {
		return
	}

	switch d.phase {
	case phaseAddressed:
		err := d.transport.ReadFromAddr(ctx, d.addr, d.pendingLen)
		if err != nil {
			d.phase = phaseIdle
			d.lastErr = fmt.Errorf("could not request register data: %w", err)
			return
		}
		d.phase = phaseReading
	case phaseReading:
		// The transaction ends here whether the read succeeded or not.
		d.phase = phaseIdle
		if d.transport.Failed() {
			d.lastErr = fmt.Errorf("transfer of register %#x failed", d.pendingReg)
			return
		}
		d.lastErr = nil
		d.decode(d.transport.Received())
	}
}

// decode interprets a completed read according to the register that started
// the transaction. Unknown registers are ignored.
func (d *STTS22H) decode(data []byte) {
	switch d.pendingReg {
	case regWhoAmI:
		d.connected = len(data) >= 1 && data[0] == whoAmIValue
	case regStatus:
		if len(data) < 3 {
			return
		}
		d.status = Status(data[0])
		// A set busy bit means the conversion was still running when the
		// registers were sampled; keep the previous reading.
		if !d.status.Busy() {
			d.temp = convertTemperature(data[2], data[1])
		}
	}
}

func (d *STTS22H) startRead(ctx context.Context, reg byte, count int) error {
	if !d.initialized {
		return ErrNotInitialized
	}
	if d.phase != phaseIdle {
		return ErrBusy
	}

	d.pendingReg = reg
	d.pendingLen = count
	err := d.transport.WriteToAddr(ctx, d.addr, []byte{reg}, false)
	if err != nil {
		return fmt.Errorf("could not select register %#x: %w", reg, err)
	}
	d.phase = phaseAddressed
	return nil
}
