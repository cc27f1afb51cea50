package mdiobridge

import "time"

// DefaultMDIOHalfPeriod gives a 50kHz MDC. Slower clocks made the Linux mdio bus time out.
const DefaultMDIOHalfPeriod = 10 * time.Microsecond

const (
	mdioPreambleLen = 32
	mdioStart       = 0b01
	mdioOpRead      = 0b10
	mdioOpWrite     = 0b01
	mdioAddrBits    = 5
	mdioDataBits    = 16
)

// MDIO is a bit-banged IEEE 802.3 clause 22 management interface acting as the
// station management entity. The clock idles high.
//
// MDIO has no acknowledgment: reads always succeed and return whatever was on the
// data line, which for an absent PHY is usually the pull-up value 0xffff.
type MDIO struct {
	c clocker
}

// Configure sets the lines and MDC half period used by the engine.
// A zero halfPeriod selects [DefaultMDIOHalfPeriod].
func (m *MDIO) Configure(lines Lines, halfPeriod time.Duration) {
	if lines == nil {
		panic("nil lines")
	}
	if halfPeriod <= 0 {
		halfPeriod = DefaultMDIOHalfPeriod
	}
	m.c = clocker{lines: lines, half: halfPeriod, shape: shapeMDIO}
}

// ReadReg reads register reg of PHY phy. Only the 5 low bits of each address are used.
func (m *MDIO) ReadReg(phy, reg uint8) uint16 {
	c := &m.c
	m.cmd(mdioOpRead, phy, reg)
	// Turnaround: release the line, one dead cycle and one for the PHY's zero.
	c.lines.SetDataOutput(false)
	c.pulse()
	c.pulse()
	v := uint16(c.readBits(mdioDataBits))
	m.finish()
	return v
}

// WriteReg writes value to register reg of PHY phy. Only the 5 low bits of each address are used.
func (m *MDIO) WriteReg(phy, reg uint8, value uint16) {
	c := &m.c
	m.cmd(mdioOpWrite, phy, reg)
	// Turnaround 10.
	c.writeBit(true)
	c.writeBit(false)
	c.writeBits(uint32(value), mdioDataBits)
	m.finish()
}

// cmd takes ownership of both lines and clocks out preamble, start,
// opcode and the two address fields.
func (m *MDIO) cmd(op uint8, phy, reg uint8) {
	c := &m.c
	l := c.lines
	l.SetClockOutput(true)
	l.SetDataOutput(true)
	l.SetData(true)
	c.burst(mdioPreambleLen)
	c.writeBits(mdioStart, 2)
	c.writeBits(uint32(op), 2)
	c.writeBits(uint32(maskBits(phy, mdioAddrBits)), mdioAddrBits)
	c.writeBits(uint32(maskBits(reg, mdioAddrBits)), mdioAddrBits)
}

// finish emits the trailing pulse targets need to settle and leaves
// the data line as an output driven low.
func (m *MDIO) finish() {
	c := &m.c
	c.pulse()
	c.lines.SetData(false)
	c.lines.SetDataOutput(true)
}
