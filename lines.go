package mdiobridge

import (
	"time"

	"golang.org/x/exp/constraints"
)

// Lines is the HAL over the two management lines shared by MDIO and SMI:
// the clock line (MDC) and the bidirectional data line (MDIO/SDA).
// Implementations carry no protocol knowledge.
//
// Lines is not safe for concurrent use. A [Bridge] is the single owner of a Lines
// value and serializes every transaction that drives it.
type Lines interface {
	// SetClockOutput configures the clock line as output (true) or releases it
	// as an input (false).
	SetClockOutput(output bool)
	// SetDataOutput configures the data line as output (true) or releases it
	// as an input so the remote device may drive it (false).
	SetDataOutput(output bool)
	// SetClock drives the clock line level.
	SetClock(high bool)
	// SetData drives the data line level.
	SetData(high bool)
	// Data samples the data line level.
	Data() bool
	// Delay blocks the caller for d. It must busy-wait: the protocols
	// are sensitive to scheduler jitter.
	Delay(d time.Duration)
}

// ClockBurster is implemented by Lines that can emit a run of clock pulses in hardware.
// The MDIO engine uses it for the 32-pulse preamble when available.
// After BurstClock returns the clock line must be an output driven high.
type ClockBurster interface {
	BurstClock(n int, halfPeriod time.Duration)
}

// pulsarPlan returns the amount of pulses to queue on a generator that emits
// high-then-low pulses so the clock line sees n rising edges once software
// drives it high afterwards, and how long to wait for the generator to finish.
// The wait covers the generator's setup time with a period to spare.
func pulsarPlan(n int, halfPeriod time.Duration) (queue int, wait time.Duration) {
	if n <= 0 {
		return 0, 0
	}
	return n - 1, time.Duration(n+1) * 2 * halfPeriod
}

// BusyWait spins until d has elapsed. It is the reference Delay for Lines implementations.
func BusyWait(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

type pulseShape uint8

const (
	// shapeMDIO drives data before the pulse. Pulse is clock low then clock high,
	// so the clock idles high between bits. Reads sample before the pulse.
	shapeMDIO pulseShape = iota
	// shapeSMI waits, drives data, waits, then clocks high and low. The clock idles low.
	// Reads sample while the clock is high.
	shapeSMI
)

// clocker is the bit-clocking primitive shared by both engines.
// All transfers are MSB first.
type clocker struct {
	lines Lines
	half  time.Duration
	shape pulseShape
}

func (c *clocker) delay() {
	c.lines.Delay(c.half)
}

// pulse emits one full clock cycle in the shape's pulse form.
func (c *clocker) pulse() {
	l := c.lines
	switch c.shape {
	case shapeMDIO:
		l.SetClock(false)
		c.delay()
		l.SetClock(true)
		c.delay()
	case shapeSMI:
		l.SetClock(true)
		c.delay()
		l.SetClock(false)
	}
}

// writeBit drives a single bit and clocks it out.
func (c *clocker) writeBit(b bool) {
	switch c.shape {
	case shapeMDIO:
		c.lines.SetData(b)
		c.pulse()
	case shapeSMI:
		c.delay()
		c.lines.SetData(b)
		c.delay()
		c.pulse()
	}
}

// readBit clocks in a single bit. The data line must already be released.
func (c *clocker) readBit() (b bool) {
	l := c.lines
	switch c.shape {
	case shapeMDIO:
		b = l.Data()
		c.pulse()
	case shapeSMI:
		c.delay()
		l.SetClock(true)
		c.delay()
		b = l.Data()
		l.SetClock(false)
	}
	return b
}

// writeBits clocks out the n least significant bits of v, MSB first.
func (c *clocker) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		c.writeBit(bitAt(v, i))
	}
}

// readBits clocks in n bits, MSB first.
func (c *clocker) readBits(n int) (v uint32) {
	for i := 0; i < n; i++ {
		v <<= 1
		v |= uint32(b2u8(c.readBit()))
	}
	return v
}

// burst emits n bare clock pulses, in hardware if the Lines support it.
func (c *clocker) burst(n int) {
	if b, ok := c.lines.(ClockBurster); ok {
		b.BurstClock(n, c.half)
		return
	}
	for range n {
		c.pulse()
	}
}

func bitAt[T constraints.Unsigned](v T, i int) bool {
	return (v>>i)&1 != 0
}

func maskBits[T constraints.Unsigned](v T, n int) T {
	return v & (T(1)<<n - 1)
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
