package stts22h

import (
	"context"
	"math"
)

type simOp int

const (
	simIdle simOp = iota
	simWriting
	simReading
)

// SimBus is an in-memory AsyncBus with a simulated STTS22H behind it. It
// keeps a register file, emulates transfer latency (a transfer completes
// only after a configurable number of activity polls), the conversion busy
// bit and the sticky threshold flags. It exists so the driver and the CLI
// can run without hardware.
//
// Like the poll-driven bus engines it stands in for, SimBus advances its
// state from the Writing/Reading probes.
type SimBus struct {
	// Latency is the number of activity polls a transfer stays in flight.
	Latency int
	// ConversionPolls is the number of status reads that report the
	// conversion busy bit after a one-shot trigger.
	ConversionPolls int

	addr    byte
	regs    [8]byte
	pointer byte

	op       simOp
	ticks    int
	count    int
	pending  []byte
	failed   bool
	failNext bool
	received []byte

	busyReads int
}

// NewSimBus returns a simulator answering on the given 7-bit address with a
// starting temperature of 25 degrees Celsius.
func NewSimBus(addr byte) *SimBus {
	s := &SimBus{
		Latency:         2,
		ConversionPolls: 1,
		addr:            addr,
	}
	s.regs[regWhoAmI] = whoAmIValue
	s.SetTemperature(25.0)
	return s
}

// SetTemperature places a new reading in the output registers and raises
// the sticky threshold flags when programmed limits are crossed.
func (s *SimBus) SetTemperature(celsius float32) {
	raw := uint16(int16(math.Round(float64(celsius) * 100)))
	s.regs[regTempLowOut] = byte(raw)
	s.regs[regTempHighOut] = byte(raw >> 8)

	if code := s.regs[regTempHighLimit]; code != 0 && celsius > simThreshold(code) {
		s.regs[regStatus] |= statusOverHigh
	}
	if code := s.regs[regTempLowLimit]; code != 0 && celsius < simThreshold(code) {
		s.regs[regStatus] |= statusUnderLow
	}
}

// FailNextRead makes the next read transfer complete with a failure. Read
// failures are the ones a driver can observe; a rejected address write
// never reaches its decode step.
func (s *SimBus) FailNextRead() {
	s.failNext = true
}

func (s *SimBus) WriteToAddr(ctx context.Context, address byte, buffer []byte, stop bool) error {
	if s.op != simIdle {
		// rejected starts still advance the engine so retry loops converge
		s.tick(s.op)
		return ErrBusBusy
	}
	s.op = simWriting
	s.ticks = s.Latency
	s.pending = append(s.pending[:0], buffer...)
	s.failed = address != s.addr
	return nil
}

func (s *SimBus) ReadFromAddr(ctx context.Context, address byte, count int) error {
	if s.op != simIdle {
		s.tick(s.op)
		return ErrBusBusy
	}
	s.op = simReading
	s.ticks = s.Latency
	s.count = count
	s.failed = s.failNext || address != s.addr
	s.failNext = false
	return nil
}

func (s *SimBus) Writing() bool { return s.tick(simWriting) }
func (s *SimBus) Reading() bool { return s.tick(simReading) }

func (s *SimBus) Failed() bool { return s.failed }

func (s *SimBus) Received() []byte { return s.received }

// tick counts down the in-flight transfer and applies its effect on the
// register file once it completes.
func (s *SimBus) tick(op simOp) bool {
	if s.op != op {
		return false
	}
	if s.ticks > 0 {
		s.ticks--
		return true
	}
	if !s.failed {
		switch op {
		case simWriting:
			s.completeWrite()
		case simReading:
			s.completeRead()
		}
	}
	s.op = simIdle
	return false
}

func (s *SimBus) completeWrite() {
	if len(s.pending) == 0 {
		return
	}
	s.pointer = s.pending[0]
	for i, value := range s.pending[1:] {
		reg := s.pointer + byte(i)
		if int(reg) >= len(s.regs) || reg == regWhoAmI {
			continue
		}
		s.regs[reg] = value
		if reg == regCtrl && value&ctrlOneShot != 0 {
			s.busyReads = s.ConversionPolls
		}
	}
}

func (s *SimBus) completeRead() {
	s.received = s.received[:0]
	for i := 0; i < s.count; i++ {
		reg := s.pointer + byte(i)
		if int(reg) >= len(s.regs) {
			s.received = append(s.received, 0)
			continue
		}
		value := s.regs[reg]
		if reg == regStatus {
			if s.busyReads > 0 {
				s.busyReads--
				value |= statusBusy
			}
			// threshold flags are sticky until read
			s.regs[regStatus] &^= statusOverHigh | statusUnderLow
		}
		s.received = append(s.received, value)
	}
}

func simThreshold(code byte) float32 {
	return (float32(code) - 63.0) * 0.64
}
