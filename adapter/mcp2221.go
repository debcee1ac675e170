// Package adapter provides AsyncBus implementations on top of USB and
// platform I2C bridges.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"

	stts22h "github.com/vitkailev/stts22h-library"
	"github.com/vitkailev/stts22h-library/cmd/stts22h/console"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

// HID command codes of the MCP2221 I2C engine.
const (
	cmdStatusSetParams byte = 0x10
	cmdGetI2CData      byte = 0x40
	cmdWriteData       byte = 0x90
	cmdWriteNoStop     byte = 0x94
	cmdReadData        byte = 0x91
)

type mcpPhase int

const (
	mcpIdle mcpPhase = iota
	mcpWriting
	mcpReading
)

// MCP2221 drives the Microchip MCP2221 USB-to-I2C bridge as an AsyncBus.
// The chip's I2C engine is itself asynchronous: a transfer command only
// queues the transfer, and the engine state has to be polled through the
// status command. That maps directly onto the Writing/Reading probes.
type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration

	phase      mcpPhase
	pendingLen int
	failed     bool
	received   []byte
}

// MCP2221Status is the parsed response of the status command.
type MCP2221Status struct {
	EngineState            int    `yaml:"engine_state"`
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

func NewMCP2221() *MCP2221 {
	return &MCP2221{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: 50 * time.Millisecond,
	}
}

var _ stts22h.AsyncBus = &MCP2221{}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.phase != mcpIdle {
		return stts22h.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdWriteData
	if !stop {
		d.request[0] = cmdWriteNoStop
	}
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	// engine still holds a previous transfer
	if d.response[1] == 0x01 {
		console.Debug("adapter busy")
		return stts22h.ErrBusBusy
	}
	d.phase = mcpWriting
	d.failed = false
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, count int) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.phase != mcpIdle {
		return stts22h.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdReadData
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(count))
	d.request[3] = address<<1 + 1
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == 0x01 {
		console.Debug("adapter busy")
		return stts22h.ErrBusBusy
	}
	d.phase = mcpReading
	d.pendingLen = count
	d.failed = false
	return nil
}

func (d *MCP2221) Writing() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.phase != mcpWriting {
		return false
	}
	status, err := d.status(context.Background())
	if err != nil {
		// unreachable adapter ends the transfer as failed instead of
		// wedging the caller's state machine
		d.phase = mcpIdle
		d.failed = true
		return false
	}
	if status.EngineState != 0 {
		return true
	}
	d.phase = mcpIdle
	d.failed = status.LastWriteRequestedSize != status.LastWriteSentSize
	return false
}

func (d *MCP2221) Reading() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.phase != mcpReading {
		return false
	}
	status, err := d.status(context.Background())
	if err != nil {
		d.phase = mcpIdle
		d.failed = true
		return false
	}
	if status.EngineState != 0 {
		return true
	}
	d.phase = mcpIdle
	d.fetchReceived(context.Background())
	return false
}

func (d *MCP2221) Failed() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.failed
}

func (d *MCP2221) Received() []byte {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.received
}

// fetchReceived drains the engine's read buffer after the status command
// reported the transfer done.
func (d *MCP2221) fetchReceived(ctx context.Context) {
	d.resetBuffers()
	d.request[0] = cmdGetI2CData
	err := d.send(ctx, true)
	if err != nil {
		d.failed = true
		return
	}
	if d.response[1] == 0x41 {
		d.failed = true
		return
	}
	if d.response[3] == 127 || int(d.response[3]) != d.pendingLen {
		console.Debugf("invalid data size byte; expected %d, got %d", d.pendingLen, d.response[3])
		d.failed = true
		return
	}
	d.received = append(d.received[:0], d.response[4:4+d.pendingLen]...)
	d.failed = false
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8:  Internal I2C state machine state value (0x00 - idle)
		9:  Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11: Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12: Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13: Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16: Lower byte (16-bit value) of the I2C address being used
		17: Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		EngineState:          int(buffer[8]),
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// ReleaseBus cancels any transfer the engine still holds and frees the bus
// lines. Useful when a previous process died mid-transfer.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParams
	d.request[2] = 0x10
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	d.phase = mcpIdle
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context, response bool) error {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) > 1 {
		return fmt.Errorf("ambiguous device identification")
	}
	if len(devs) == 0 {
		return fmt.Errorf("MCP2221 device not found")
	}
	dev, err := devs[0].Open()
	if err != nil {
		return fmt.Errorf("error opening device: %w", err)
	}
	defer func() {
		_ = dev.Close()
	}()
	verbose := console.IsVerbose(ctx)
	if verbose {
		console.Printf("sending message to adapter:\n%s\n", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if !response {
		return nil
	}
	time.Sleep(d.responseWait)
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		console.Printf("read message from adapter:\n%s\n", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
