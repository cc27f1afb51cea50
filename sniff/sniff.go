// Package sniff decodes MDIO and Realtek SMI transactions from sampled clock and
// data line levels, as captured by a logic analyzer or a simulated wire.
//
// The decoders are passive: they see line levels, not who drives them.
// Bits are sampled on rising clock edges using the data level right before the edge.
package sniff

import (
	"strconv"
	"time"
)

// Sample is the state of both lines after either changed.
type Sample struct {
	T     time.Duration // Time since start of capture.
	Clock bool
	Data  bool
}

// bit is a data bit sampled on a rising clock edge.
type bit struct {
	t time.Duration
	v bool
}

// event is either a sampled bit or, for SMI, a start/stop condition.
type event struct {
	kind eventKind
	bit
}

type eventKind uint8

const (
	evBit eventKind = iota
	evStart
	evStop
)

// scan walks samples producing bits on rising clock edges and start/stop conditions
// on data transitions while the clock is high.
func scan(samples []Sample, fn func(event)) {
	if len(samples) == 0 {
		return
	}
	prev := samples[0]
	for _, s := range samples[1:] {
		switch {
		case s.Clock && !prev.Clock:
			fn(event{kind: evBit, bit: bit{t: s.T, v: prev.Data}})
		case s.Clock == prev.Clock && s.Clock && s.Data != prev.Data:
			kind := evStop
			if !s.Data {
				kind = evStart
			}
			fn(event{kind: kind, bit: bit{t: s.T}})
		}
		prev = s
	}
}

// MDIOOp is the opcode field of a clause 22 MDIO frame.
type MDIOOp uint8

const (
	OpInvalid0 MDIOOp = 0b00
	OpWrite    MDIOOp = 0b01
	OpRead     MDIOOp = 0b10
	OpInvalid3 MDIOOp = 0b11
)

func (op MDIOOp) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// MDIOFrame is a decoded clause 22 frame.
type MDIOFrame struct {
	Start    time.Duration // Time of the first start bit.
	Preamble int           // Amount of one bits preceding the start bits.
	Op       MDIOOp
	PHY      uint8
	Reg      uint8
	// Turnaround holds the two turnaround bits. Writes carry 0b10, on reads
	// the first bit floats (usually 1) and the PHY drives the second to 0.
	Turnaround uint8
	Data       uint16
}

// TurnaroundOK reports whether the PHY (on reads) or the station (on writes)
// drove the second turnaround bit low.
func (f MDIOFrame) TurnaroundOK() bool {
	return f.Turnaround&1 == 0
}

const (
	mdioMinPreamble = 32
	// Bits following the start bits: op, phy, reg, turnaround and data.
	mdioBodyBits = 2 + 5 + 5 + 2 + 16
)

// DecodeMDIO finds all clause 22 frames in samples. A frame needs at least
// 32 preamble bits followed by the 01 start pattern.
func DecodeMDIO(samples []Sample) []MDIOFrame {
	var bits []bit
	scan(samples, func(ev event) {
		if ev.kind == evBit {
			bits = append(bits, ev.bit)
		}
	})
	var frames []MDIOFrame
	ones := 0
	for i := 0; i < len(bits); i++ {
		if bits[i].v {
			ones++
			continue
		}
		// Zero bit: candidate first start bit.
		if ones < mdioMinPreamble || i+1+mdioBodyBits >= len(bits) || !bits[i+1].v {
			ones = 0
			continue
		}
		body := bits[i+2 : i+2+mdioBodyBits]
		f := MDIOFrame{
			Start:      bits[i].t,
			Preamble:   ones,
			Op:         MDIOOp(num(body[0:2])),
			PHY:        uint8(num(body[2:7])),
			Reg:        uint8(num(body[7:12])),
			Turnaround: uint8(num(body[12:14])),
			Data:       uint16(num(body[14:30])),
		}
		frames = append(frames, f)
		i += 1 + mdioBodyBits
		ones = 0
	}
	return frames
}

func num(bits []bit) (v uint32) {
	for _, b := range bits {
		v <<= 1
		if b.v {
			v |= 1
		}
	}
	return v
}

// SMI command bytes.
const (
	SMICmdRead  = 0xa9
	SMICmdWrite = 0xb8
)

// SMIByte is a byte transferred inside an SMI frame.
type SMIByte struct {
	Value uint8
	// Acks holds the acknowledgment bits following the byte, one per attempt.
	// A slave acknowledges with 0. The last byte of a read is acknowledged by the
	// master with 1. Empty if the frame stopped right after the byte.
	Acks []bool
}

// Acked reports whether the byte's final acknowledgment bit was 0.
func (b SMIByte) Acked() bool {
	return len(b.Acks) > 0 && !b.Acks[len(b.Acks)-1]
}

// SMIFrame is a decoded SMI transaction between a start and a stop condition.
type SMIFrame struct {
	Start, End time.Duration
	Bytes      []SMIByte
	// Extra holds bits after the last complete byte that did not form another byte.
	Extra int
	// Stopped is false if the capture ended before a stop condition.
	Stopped bool
}

// IsRead reports whether the frame starts with the read command.
func (f SMIFrame) IsRead() bool { return len(f.Bytes) > 0 && f.Bytes[0].Value == SMICmdRead }

// IsWrite reports whether the frame starts with the write command.
func (f SMIFrame) IsWrite() bool { return len(f.Bytes) > 0 && f.Bytes[0].Value == SMICmdWrite }

// Valid reports whether the frame is a complete register read or write.
// Lines carrying MDIO traffic produce invalid SMI frames.
func (f SMIFrame) Valid() bool {
	return (f.IsRead() || f.IsWrite()) && len(f.Bytes) == 5 && f.Stopped
}

// Addr returns the 16-bit register address. Zero if the frame is too short.
func (f SMIFrame) Addr() uint16 {
	if len(f.Bytes) < 3 {
		return 0
	}
	return uint16(f.Bytes[2].Value)<<8 | uint16(f.Bytes[1].Value)
}

// Value returns the 16-bit data field, read or written. Zero if the frame is too short.
func (f SMIFrame) Value() uint16 {
	if len(f.Bytes) < 5 {
		return 0
	}
	return uint16(f.Bytes[4].Value)<<8 | uint16(f.Bytes[3].Value)
}

// DecodeSMI splits samples into frames delimited by start and stop conditions.
// Each byte is followed by acknowledgment bits: ones are consumed as retries
// until a zero or the end of the frame.
func DecodeSMI(samples []Sample) []SMIFrame {
	var frames []SMIFrame
	var cur *SMIFrame
	var bits []bit
	lastWasEdgeBit := false
	scan(samples, func(ev event) {
		switch ev.kind {
		case evStart:
			if cur != nil {
				// Repeated start, close the running frame.
				frames = append(frames, assembleSMI(*cur, bits))
			}
			cur = &SMIFrame{Start: ev.t}
			bits = bits[:0]
		case evStop:
			if cur == nil {
				return
			}
			if lastWasEdgeBit && len(bits) > 0 {
				// The stop condition is set up with a clock rise that is not a data bit.
				bits = bits[:len(bits)-1]
			}
			cur.End = ev.t
			cur.Stopped = true
			frames = append(frames, assembleSMI(*cur, bits))
			cur = nil
		case evBit:
			if cur != nil {
				bits = append(bits, ev.bit)
			}
		}
		lastWasEdgeBit = ev.kind == evBit
	})
	if cur != nil {
		frames = append(frames, assembleSMI(*cur, bits))
	}
	return frames
}

func assembleSMI(f SMIFrame, bits []bit) SMIFrame {
	for len(bits) >= 8 {
		b := SMIByte{Value: uint8(num(bits[:8]))}
		bits = bits[8:]
		for len(bits) > 0 {
			ack := bits[0].v
			b.Acks = append(b.Acks, ack)
			bits = bits[1:]
			if !ack {
				break
			}
		}
		f.Bytes = append(f.Bytes, b)
	}
	f.Extra = len(bits)
	return f
}
