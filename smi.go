package mdiobridge

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSMIHalfPeriod is the SMI clock half period. Chosen empirically so that
// host side register accesses do not time out.
const DefaultSMIHalfPeriod = 20 * time.Microsecond

// DefaultSMIAckRetries is the amount of extra ACK samples taken after a NACK
// before a byte is considered unacknowledged.
const DefaultSMIAckRetries = 5

const (
	smiCmdRead  = 0xa9
	smiCmdWrite = 0xb8
)

// ErrAckTimeout is returned when an SMI slave does not acknowledge a byte.
var ErrAckTimeout = errors.New("smi: ack timeout")

// SMI is a bit-banged Realtek Simple Management Interface master, the
// byte-oriented switch management protocol that reuses the MDC/MDIO pins.
// Every byte sent to the slave is followed by an ACK sampled from it and every
// byte received is followed by an ACK driven by the master.
//
// Inspired by linux drivers/net/dsa/realtek/realtek-smi.c
type SMI struct {
	c       clocker
	retries int
}

// Configure sets the lines, clock half period and ACK retry budget used by the engine.
// Zero values select [DefaultSMIHalfPeriod] and [DefaultSMIAckRetries].
func (s *SMI) Configure(lines Lines, halfPeriod time.Duration, ackRetries int) {
	if lines == nil {
		panic("nil lines")
	}
	if halfPeriod <= 0 {
		halfPeriod = DefaultSMIHalfPeriod
	}
	if ackRetries <= 0 {
		ackRetries = DefaultSMIAckRetries
	}
	s.c = clocker{lines: lines, half: halfPeriod, shape: shapeSMI}
	s.retries = ackRetries
}

// ReadRegister reads the 16-bit register at addr.
func (s *SMI) ReadRegister(addr uint16) (v uint16, err error) {
	s.start()
	defer s.stop()
	err = s.writeByte(smiCmdRead, "read command")
	if err != nil {
		return 0, err
	}
	err = s.writeAddr(addr)
	if err != nil {
		return 0, err
	}
	lo := s.readByte(false)
	hi := s.readByte(true)
	return uint16(hi)<<8 | uint16(lo), nil
}

// WriteRegister writes v to the register at addr. If ack is false the high data
// byte is sent without waiting for acknowledgment, which is required for writes
// that reset the switch: the device goes away before it can ACK.
func (s *SMI) WriteRegister(addr, v uint16, ack bool) (err error) {
	s.start()
	defer s.stop()
	err = s.writeByte(smiCmdWrite, "write command")
	if err != nil {
		return err
	}
	err = s.writeAddr(addr)
	if err != nil {
		return err
	}
	err = s.writeByte(uint8(v), "data[7:0]")
	if err != nil {
		return err
	}
	if !ack {
		s.writeByteNoAck(uint8(v >> 8))
		return nil
	}
	return s.writeByte(uint8(v>>8), "data[15:8]")
}

func (s *SMI) writeAddr(addr uint16) error {
	err := s.writeByte(uint8(addr), "addr[7:0]")
	if err != nil {
		return err
	}
	return s.writeByte(uint8(addr>>8), "addr[15:8]")
}

// start takes ownership of both lines and emits the start condition:
// data falls while the clock is high.
func (s *SMI) start() {
	c := &s.c
	l := c.lines
	l.SetClockOutput(true)
	l.SetClock(false)
	l.SetDataOutput(true)
	l.SetData(true)
	c.delay()

	// CLK 1: 0 -> 1, 1 -> 0
	l.SetClock(true)
	c.delay()
	l.SetClock(false)
	c.delay()

	// CLK 2:
	l.SetClock(true)
	c.delay()
	l.SetData(false)
	c.delay()
	l.SetClock(false)
	c.delay()
	l.SetData(true)
}

// stop emits the stop condition (data rises while clock is high), a couple
// of idle clocks and finally releases both lines.
func (s *SMI) stop() {
	c := &s.c
	l := c.lines
	c.delay()
	l.SetData(false)
	l.SetClock(true)
	c.delay()
	l.SetData(true)
	c.delay()
	l.SetClock(true)
	c.delay()
	l.SetClock(false)
	c.delay()
	l.SetClock(true)

	// Add a click.
	c.delay()
	l.SetClock(false)
	c.delay()
	l.SetClock(true)

	l.SetDataOutput(false)
	l.SetClockOutput(false)
}

func (s *SMI) writeBits(v uint32, n int) {
	s.c.writeBits(v, n)
}

// readBits releases the data line for n bits and then drives it low again.
func (s *SMI) readBits(n int) uint32 {
	l := s.c.lines
	l.SetDataOutput(false)
	v := s.c.readBits(n)
	l.SetData(false)
	l.SetDataOutput(true)
	return v
}

func (s *SMI) writeByte(b uint8, stage string) error {
	s.writeBits(uint32(b), 8)
	err := s.waitAck()
	if err != nil {
		return fmt.Errorf("%w on %s byte %#02x", err, stage, b)
	}
	return nil
}

func (s *SMI) writeByteNoAck(b uint8) {
	s.writeBits(uint32(b), 8)
}

// readByte reads 8 bits and then drives the master's ACK bit. last must be
// true for the final byte of a read so the slave stops driving.
func (s *SMI) readByte(last bool) uint8 {
	b := uint8(s.readBits(8))
	s.writeBits(uint32(b2u8(last)), 1)
	return b
}

// waitAck samples the ACK bit, retrying up to the configured amount of times.
func (s *SMI) waitAck() error {
	retries := 0
	for {
		if s.readBits(1) == 0 {
			return nil
		}
		retries++
		if retries > s.retries {
			return ErrAckTimeout
		}
	}
}
