// Package linesim simulates the shared MDC/MDIO lines and the devices hanging off
// them so bus engines can be exercised without hardware.
//
// The wire behaves as a pulled-up bus: a line no one drives reads high. Time only
// advances through Delay so captures are deterministic.
package linesim

import (
	"time"

	"github.com/soypat/mdiobridge/sniff"
)

// Peer is a device attached to the wire.
type Peer interface {
	// Observe is called after the resolved line levels change. hostDrivesData
	// reports whether the host has the data line configured as output.
	Observe(clock, data, hostDrivesData bool)
	// DriveData returns the level the peer forces on the data line, if any.
	DriveData() (level, driving bool)
}

// Wire implements the host side HAL of the two management lines.
type Wire struct {
	peers []Peer
	now   time.Duration

	clkOut, dataOut     bool
	clkLatch, dataLatch bool
	// resolved levels.
	clock, data bool

	samples []sniff.Sample

	// ClockRises counts rising edges on the clock line.
	ClockRises int
	// DataReads counts host samples of the data line.
	DataReads int
}

// NewWire returns an idle wire with both lines released and the given peers attached.
func NewWire(peers ...Peer) *Wire {
	w := &Wire{peers: peers, clock: true, data: true}
	w.samples = append(w.samples, sniff.Sample{T: 0, Clock: true, Data: true})
	return w
}

// Attach adds a peer to the wire.
func (w *Wire) Attach(p Peer) {
	w.peers = append(w.peers, p)
}

func (w *Wire) SetClockOutput(output bool) {
	w.clkOut = output
	w.settle()
}

func (w *Wire) SetDataOutput(output bool) {
	w.dataOut = output
	w.settle()
}

func (w *Wire) SetClock(high bool) {
	w.clkLatch = high
	w.settle()
}

func (w *Wire) SetData(high bool) {
	w.dataLatch = high
	w.settle()
}

func (w *Wire) Data() bool {
	w.DataReads++
	return w.data
}

func (w *Wire) Delay(d time.Duration) {
	w.now += d
}

// Now returns the simulated time.
func (w *Wire) Now() time.Duration { return w.now }

// Clock returns the resolved clock line level.
func (w *Wire) Clock() bool { return w.clock }

// DataLevel returns the resolved data line level without counting a read.
func (w *Wire) DataLevel() bool { return w.data }

// ClockIsOutput reports whether the host drives the clock line.
func (w *Wire) ClockIsOutput() bool { return w.clkOut }

// DataIsOutput reports whether the host drives the data line.
func (w *Wire) DataIsOutput() bool { return w.dataOut }

// Samples returns the line levels recorded on every change.
func (w *Wire) Samples() []sniff.Sample { return w.samples }

// ResetCapture drops recorded samples and counters, keeping line state.
func (w *Wire) ResetCapture() {
	w.samples = append(w.samples[:0], sniff.Sample{T: w.now, Clock: w.clock, Data: w.data})
	w.ClockRises = 0
	w.DataReads = 0
}

func (w *Wire) resolve() (clock, data bool) {
	clock = !w.clkOut || w.clkLatch
	if w.dataOut {
		return clock, w.dataLatch
	}
	data = true
	for _, p := range w.peers {
		level, driving := p.DriveData()
		if driving && !level {
			data = false // Wired-AND: any peer pulling low wins.
		}
	}
	return clock, data
}

// settle records level changes and lets peers react to them. Peer reactions
// may change the data line, which is recorded as a separate sample.
func (w *Wire) settle() {
	for range 4 {
		clock, data := w.resolve()
		if clock == w.clock && data == w.data {
			return
		}
		if clock && !w.clock {
			w.ClockRises++
		}
		w.clock, w.data = clock, data
		w.samples = append(w.samples, sniff.Sample{T: w.now, Clock: clock, Data: data})
		for _, p := range w.peers {
			p.Observe(clock, data, w.dataOut)
		}
	}
	panic("linesim: wire did not settle")
}
