// Package i2c adapts a Linux I2C bus opened through periph.io to the
// asynchronous transport contract of the driver. periph transfers are
// blocking, so each one runs on its own goroutine while the activity probes
// report its progress.
package i2c

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	stts22h "github.com/vitkailev/stts22h-library"
)

var _ stts22h.AsyncBus = &GenericBus{}

// GenericBus drives a periph.io I2C bus. One transfer at a time; starting a
// second one while the first is in flight returns ErrBusBusy.
type GenericBus struct {
	bus i2c.BusCloser

	mx       sync.Mutex
	writing  bool
	reading  bool
	failed   bool
	received []byte
}

func NewGenericBus(dev string) (*GenericBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{bus: bus}, nil
}

// WriteToAddr starts a write transfer. The kernel always releases the bus
// with a stop condition between transfers, so the stop flag is only
// informational here; the STTS22H keeps its register pointer across a stop.
func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.writing || b.reading {
		return stts22h.ErrBusBusy
	}
	b.writing = true
	b.failed = false
	out := append([]byte(nil), buffer...)
	go func() {
		err := b.bus.Tx(uint16(address), out, nil)
		b.mx.Lock()
		b.failed = err != nil
		b.writing = false
		b.mx.Unlock()
	}()
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, count int) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.writing || b.reading {
		return stts22h.ErrBusBusy
	}
	if count <= 0 {
		return fmt.Errorf("invalid read size %d", count)
	}
	b.reading = true
	b.failed = false
	in := make([]byte, count)
	go func() {
		err := b.bus.Tx(uint16(address), nil, in)
		b.mx.Lock()
		b.failed = err != nil
		b.received = in
		b.reading = false
		b.mx.Unlock()
	}()
	return nil
}

func (b *GenericBus) Writing() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.writing
}

func (b *GenericBus) Reading() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.reading
}

func (b *GenericBus) Failed() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.failed
}

func (b *GenericBus) Received() []byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.received
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
