package stts22h

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (transfer not completed)")

// AsyncBus is the transport contract the driver is written against. All
// transfer methods are non-blocking: a nil error means the request was
// accepted by the bus engine, not that the transfer finished. Completion is
// observed by polling Writing/Reading until the engine goes idle.
type AsyncBus interface {
	// WriteToAddr starts transmitting buffer to the device at the given
	// 7-bit address. When stop is false the engine keeps the bus claimed so
	// that a read can follow without an intervening stop condition.
	WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error
	// ReadFromAddr starts receiving count bytes from the device at the
	// given 7-bit address.
	ReadFromAddr(ctx context.Context, address byte, count int) error
	// Writing reports whether a write transfer is still in flight.
	Writing() bool
	// Reading reports whether a read transfer is still in flight.
	Reading() bool
	// Failed reports whether the most recently completed transfer ended in
	// error. Only meaningful while the engine is idle.
	Failed() bool
	// Received returns the bytes of the last completed read. The returned
	// buffer is only valid until the next transfer is started.
	Received() []byte
}
