package sniff

import (
	"testing"
	"time"
)

const tick = time.Microsecond

// capture builds samples the way a logic analyzer would record them.
type capture struct {
	samples []Sample
	clock   bool
	data    bool
	t       time.Duration
}

func newCapture() *capture {
	c := &capture{clock: true, data: true}
	c.record()
	return c
}

func (c *capture) record() {
	c.samples = append(c.samples, Sample{T: c.t, Clock: c.clock, Data: c.data})
	c.t += tick
}

func (c *capture) setClock(b bool) {
	if b != c.clock {
		c.clock = b
		c.record()
	}
}

func (c *capture) setData(b bool) {
	if b != c.data {
		c.data = b
		c.record()
	}
}

// mdioBits drives data while the clock is high and pulses low-high.
func (c *capture) mdioBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		c.setData(v&(1<<i) != 0)
		c.setClock(false)
		c.setClock(true)
	}
}

// smiBits drives data while the clock is low and pulses high-low.
func (c *capture) smiBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		c.setData(v&(1<<i) != 0)
		c.setClock(true)
		c.setClock(false)
	}
}

func (c *capture) smiStart() {
	c.setClock(true)
	c.setData(true)
	c.setData(false)
	c.setClock(false)
}

func (c *capture) smiStop() {
	c.setData(false)
	c.setClock(true) // Setup pulse, not a data bit.
	c.setData(true)
	c.setClock(false)
	c.setClock(true)
}

func (c *capture) mdioFrame(preamble int, op, phy, reg, ta uint32, data uint16) {
	for range preamble {
		c.mdioBits(1, 1)
	}
	c.mdioBits(0b01, 2)
	c.mdioBits(op, 2)
	c.mdioBits(phy, 5)
	c.mdioBits(reg, 5)
	c.mdioBits(ta, 2)
	c.mdioBits(uint32(data), 16)
	c.mdioBits(1, 1)
}

func TestDecodeMDIO(t *testing.T) {
	c := newCapture()
	c.mdioFrame(32, uint32(OpRead), 0x1f, 2, 0b10, 0x0007)
	c.mdioFrame(40, uint32(OpWrite), 1, 0, 0b10, 0x8000)
	frames := DecodeMDIO(c.samples)
	if len(frames) != 2 {
		t.Fatalf("want 2 frames, got %d", len(frames))
	}
	rd, wr := frames[0], frames[1]
	if rd.Op != OpRead || rd.PHY != 0x1f || rd.Reg != 2 || rd.Data != 0x0007 || !rd.TurnaroundOK() {
		t.Errorf("bad read frame %+v", rd)
	}
	if rd.Preamble != 32 {
		t.Errorf("want preamble 32, got %d", rd.Preamble)
	}
	if wr.Op != OpWrite || wr.PHY != 1 || wr.Reg != 0 || wr.Data != 0x8000 || wr.Turnaround != 0b10 {
		t.Errorf("bad write frame %+v", wr)
	}
	if wr.Start <= rd.Start {
		t.Error("frames out of order")
	}
}

func TestDecodeMDIOShortPreamble(t *testing.T) {
	c := newCapture()
	c.mdioFrame(31, uint32(OpRead), 1, 1, 0b10, 0x1234)
	if frames := DecodeMDIO(c.samples); len(frames) != 0 {
		t.Errorf("frame with short preamble decoded: %+v", frames)
	}
}

func TestDecodeMDIOTruncated(t *testing.T) {
	c := newCapture()
	c.mdioFrame(32, uint32(OpRead), 1, 1, 0b10, 0x1234)
	// Cut capture in the middle of the data field.
	samples := c.samples[:len(c.samples)-20]
	if frames := DecodeMDIO(samples); len(frames) != 0 {
		t.Errorf("truncated frame decoded: %+v", frames)
	}
	if frames := DecodeMDIO(nil); frames != nil {
		t.Error("expected no frames from empty capture")
	}
}

func TestMDIOOpString(t *testing.T) {
	if OpRead.String() != "read" || OpWrite.String() != "write" || OpInvalid3.String() != "op(3)" {
		t.Error("bad op strings")
	}
}

func TestDecodeSMIWrite(t *testing.T) {
	c := newCapture()
	c.smiStart()
	for _, b := range []uint32{SMICmdWrite, 0x34, 0x12, 0xef} {
		c.smiBits(b, 8)
		c.smiBits(0, 1)
	}
	c.smiBits(0xbe, 8)
	c.smiBits(0b110, 3) // Two NACKs then ACK.
	c.smiStop()

	frames := DecodeSMI(c.samples)
	if len(frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if !f.Valid() || !f.IsWrite() || f.IsRead() {
		t.Fatalf("want valid write frame, got %+v", f)
	}
	if f.Addr() != 0x1234 || f.Value() != 0xbeef {
		t.Errorf("want addr 0x1234 value 0xbeef, got %#04x %#04x", f.Addr(), f.Value())
	}
	last := f.Bytes[4]
	if len(last.Acks) != 3 || !last.Acked() {
		t.Errorf("want two retries then ack, got %v", last.Acks)
	}
	if f.Extra != 0 {
		t.Errorf("stop setup pulse counted as data: extra=%d", f.Extra)
	}
}

func TestDecodeSMIUnacked(t *testing.T) {
	c := newCapture()
	c.smiStart()
	c.smiBits(SMICmdRead, 8)
	c.smiBits(0b111111, 6)
	c.smiStop()
	frames := DecodeSMI(c.samples)
	if len(frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Valid() || !f.IsRead() {
		t.Errorf("want invalid read frame, got %+v", f)
	}
	if f.Bytes[0].Acked() || len(f.Bytes[0].Acks) != 6 {
		t.Errorf("want 6 NACKs, got %v", f.Bytes[0].Acks)
	}
	if f.Addr() != 0 || f.Value() != 0 {
		t.Error("short frame should have zero address and value")
	}
}

func TestDecodeSMIRepeatedStart(t *testing.T) {
	c := newCapture()
	c.smiStart()
	c.smiBits(SMICmdRead, 8)
	c.smiBits(0, 1)
	c.smiBits(0b101, 3)
	c.smiStart()
	c.smiBits(SMICmdWrite, 8)
	frames := DecodeSMI(c.samples)
	if len(frames) != 2 {
		t.Fatalf("want 2 frames, got %d", len(frames))
	}
	// The clock rise preceding the repeated start is sampled as a fourth bit.
	if frames[0].Stopped || frames[0].Extra != 4 {
		t.Errorf("first frame: want unstopped with 4 extra bits, got %+v", frames[0])
	}
	if frames[1].Stopped || !frames[1].IsWrite() || len(frames[1].Bytes[0].Acks) != 0 {
		t.Errorf("second frame: want unstopped write without acks, got %+v", frames[1])
	}
}

func TestDecodeSMIIgnoresMDIO(t *testing.T) {
	c := newCapture()
	c.mdioFrame(32, uint32(OpWrite), 0, 0, 0b10, 0xb8a9)
	for _, f := range DecodeSMI(c.samples) {
		if f.Valid() {
			t.Errorf("MDIO traffic decoded as SMI frame %+v", f)
		}
	}
}
