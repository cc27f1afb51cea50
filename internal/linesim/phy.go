package linesim

type phyState uint8

const (
	phyIdle     phyState = iota
	phyStart             // Got first start bit, want second.
	phyHeader            // Receiving op, phy and reg address.
	phyWriteTA           // Receiving turnaround and data.
	phyReadData          // Driving turnaround zero and data.
)

// PHY models a clause 22 MDIO device. It samples on rising MDC edges and,
// on reads, changes its output right after the rising edge so the station
// finds it stable before the next edge.
type PHY struct {
	// Addr is the PHY address the device answers to.
	Addr uint8
	// Regs are the 32 clause 22 registers.
	Regs [32]uint16

	// Reads and Writes count frames addressed to this PHY.
	Reads, Writes int

	state     phyState
	ones      int
	shift     uint32
	count     int
	reg       uint8
	out       uint16
	driving   bool
	driveHigh bool
	lastClock bool
}

var _ Peer = (*PHY)(nil)

func (p *PHY) DriveData() (level, driving bool) {
	return p.driveHigh, p.driving
}

func (p *PHY) Observe(clock, data, hostDrivesData bool) {
	rising := clock && !p.lastClock
	p.lastClock = clock
	if !rising {
		return
	}
	switch p.state {
	case phyIdle:
		if data {
			p.ones++
		} else if p.ones >= 32 {
			p.state = phyStart
		} else {
			p.ones = 0
		}
	case phyStart:
		p.ones = 0
		if data {
			p.state = phyHeader
			p.shift, p.count = 0, 0
		} else {
			p.state = phyIdle
		}
	case phyHeader:
		p.shiftIn(data)
		if p.count < 12 {
			return
		}
		op := p.shift >> 10
		phy := uint8(p.shift>>5) & 0x1f
		p.reg = uint8(p.shift) & 0x1f
		p.shift, p.count = 0, 0
		switch {
		case phy != p.Addr:
			p.state = phyIdle
		case op == 0b10:
			p.Reads++
			p.out = p.Regs[p.reg]
			p.state = phyReadData
		case op == 0b01:
			p.state = phyWriteTA
		default:
			p.state = phyIdle
		}
	case phyWriteTA:
		p.shiftIn(data)
		if p.count == 18 {
			p.Writes++
			p.Regs[p.reg] = uint16(p.shift)
			p.state = phyIdle
		}
	case phyReadData:
		// First turnaround bit floats, PHY drives the second one low.
		p.count++
		switch {
		case p.count == 1:
			p.drive(false)
		case p.count <= 17:
			p.drive(p.out&(1<<(17-p.count)) != 0)
		default:
			p.release()
			p.state = phyIdle
		}
	}
}

func (p *PHY) shiftIn(b bool) {
	p.shift <<= 1
	if b {
		p.shift |= 1
	}
	p.count++
}

func (p *PHY) drive(high bool) {
	p.driving = true
	p.driveHigh = high
}

func (p *PHY) release() {
	p.driving = false
}
