package adapter

import (
	"context"
	"fmt"
	"sync"

	"gobot.io/x/gobot/v2/drivers/i2c"

	stts22h "github.com/vitkailev/stts22h-library"
)

var _ stts22h.AsyncBus = &GobotBus{}

// GobotBus exposes a gobot I2C connector (a platform adaptor such as the
// NanoPi or Raspberry Pi one) as an AsyncBus. Connector transfers are
// blocking, so they run on a transfer goroutine the same way the periph
// backed bus does it.
type GobotBus struct {
	connector i2c.Connector
	busNr     int

	mx       sync.Mutex
	conn     i2c.Connection
	connAddr byte
	writing  bool
	reading  bool
	failed   bool
	received []byte
}

func NewGobotBus(connector i2c.Connector, busNr int) *GobotBus {
	return &GobotBus{connector: connector, busNr: busNr}
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.writing || b.reading {
		return stts22h.ErrBusBusy
	}
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	b.writing = true
	b.failed = false
	out := append([]byte(nil), buffer...)
	go func() {
		_, err := conn.Write(out)
		b.mx.Lock()
		b.failed = err != nil
		b.writing = false
		b.mx.Unlock()
	}()
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, count int) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.writing || b.reading {
		return stts22h.ErrBusBusy
	}
	if count <= 0 {
		return fmt.Errorf("invalid read size %d", count)
	}
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	b.reading = true
	b.failed = false
	in := make([]byte, count)
	go func() {
		n, err := conn.Read(in)
		b.mx.Lock()
		b.failed = err != nil || n != len(in)
		b.received = in
		b.reading = false
		b.mx.Unlock()
	}()
	return nil
}

func (b *GobotBus) Writing() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.writing
}

func (b *GobotBus) Reading() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.reading
}

func (b *GobotBus) Failed() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.failed
}

func (b *GobotBus) Received() []byte {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.received
}

func (b *GobotBus) connection(address byte) (i2c.Connection, error) {
	if b.conn != nil && b.connAddr == address {
		return b.conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not get i2c connection to %#x: %w", address, err)
	}
	b.conn = conn
	b.connAddr = address
	return conn, nil
}
