package stts22h

import "fmt"

var (
	// ErrNotInitialized is returned when an operation is attempted on a
	// device that has not been set up yet.
	ErrNotInitialized = fmt.Errorf("stts22h: device not initialized")
	// ErrWrongData is returned on invalid arguments: nil transport, zero
	// bus address or thresholds outside the encodable range.
	ErrWrongData = fmt.Errorf("stts22h: invalid argument")
	// ErrBusy is returned when a new transaction is requested while another
	// one is still in flight.
	ErrBusy = fmt.Errorf("stts22h: transaction in progress")
)
