package mdiobridge

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/soypat/mdiobridge/internal/linesim"
	"github.com/soypat/mdiobridge/sniff"
)

func newSMI(peers ...linesim.Peer) (*SMI, *linesim.Wire) {
	w := linesim.NewWire(peers...)
	s := new(SMI)
	s.Configure(w, 0, 0)
	return s, w
}

func TestSMILoopback(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sw := &linesim.Switch{}
	s, w := newSMI(sw)
	for i := 0; i < 64; i++ {
		addr := uint16(rng.Uint32())
		value := uint16(rng.Uint32())
		err := s.WriteRegister(addr, value, true)
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.ReadRegister(addr)
		if err != nil {
			t.Fatal(err)
		}
		if got != value {
			t.Fatalf("addr %#04x: wrote %#04x, read back %#04x", addr, value, got)
		}
		if w.ClockIsOutput() || w.DataIsOutput() {
			t.Fatal("lines not released after transaction")
		}
	}
	if sw.Writes != 64 || sw.Reads != 64 {
		t.Errorf("want 64 reads and writes, got %d reads %d writes", sw.Reads, sw.Writes)
	}
}

func TestSMIAckRetries(t *testing.T) {
	for _, tc := range []struct {
		delay   int
		wantErr error
	}{
		{delay: 0},
		{delay: 2},
		{delay: DefaultSMIAckRetries},
		{delay: DefaultSMIAckRetries + 1, wantErr: ErrAckTimeout},
		{delay: 100, wantErr: ErrAckTimeout},
	} {
		sw := &linesim.Switch{AckDelay: tc.delay}
		s, w := newSMI(sw)
		err := s.WriteRegister(0x1234, 0xbeef, true)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ack delay %d: want error %v, got %v", tc.delay, tc.wantErr, err)
			continue
		}
		if tc.wantErr != nil {
			// Command byte sampled once plus DefaultSMIAckRetries retries.
			if w.DataReads != DefaultSMIAckRetries+1 {
				t.Errorf("ack delay %d: want %d ack samples before timeout, got %d", tc.delay, DefaultSMIAckRetries+1, w.DataReads)
			}
			if sw.Writes != 0 {
				t.Errorf("ack delay %d: switch should not see a complete write", tc.delay)
			}
		} else {
			// 5 acknowledged bytes, each sampled delay+1 times.
			want := 5 * (tc.delay + 1)
			if w.DataReads != want || sw.AckSlots != want {
				t.Errorf("ack delay %d: want %d ack samples, got %d (switch saw %d)", tc.delay, want, w.DataReads, sw.AckSlots)
			}
			if sw.Reg(0x1234) != 0xbeef {
				t.Errorf("ack delay %d: register not written", tc.delay)
			}
		}
		if w.ClockIsOutput() || w.DataIsOutput() {
			t.Errorf("ack delay %d: lines not released", tc.delay)
		}
	}
}

func TestSMIRetryBudget(t *testing.T) {
	sw := &linesim.Switch{AckDelay: 8}
	w := linesim.NewWire(sw)
	var s SMI
	s.Configure(w, 0, 8)
	_, err := s.ReadRegister(0x0a0b)
	if err != nil {
		t.Fatal("8 retries should tolerate 8 NACKs:", err)
	}
}

func TestSMINoDevice(t *testing.T) {
	s, w := newSMI()
	_, err := s.ReadRegister(0)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("want ack timeout on empty bus, got %v", err)
	}
	if w.ClockIsOutput() || w.DataIsOutput() {
		t.Error("lines not released after failed transaction")
	}
	err = s.WriteRegister(0, 0, true)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("want ack timeout on empty bus, got %v", err)
	}
}

func TestSMIWriteFraming(t *testing.T) {
	sw := &linesim.Switch{}
	s, w := newSMI(sw)
	err := s.WriteRegister(0x1234, 0xbeef, true)
	if err != nil {
		t.Fatal(err)
	}
	frames := validSMI(sniff.DecodeSMI(w.Samples()))
	if len(frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(frames))
	}
	f := frames[0]
	want := []uint8{0xb8, 0x34, 0x12, 0xef, 0xbe}
	for i, b := range f.Bytes {
		if b.Value != want[i] {
			t.Errorf("byte %d: want %#02x, got %#02x", i, want[i], b.Value)
		}
		if !b.Acked() {
			t.Errorf("byte %d not acknowledged: %v", i, b.Acks)
		}
	}
	if !f.IsWrite() || f.Addr() != 0x1234 || f.Value() != 0xbeef || f.Extra != 0 {
		t.Errorf("bad decoded frame %+v", f)
	}
}

func TestSMIReadFraming(t *testing.T) {
	const addr = 0x0001
	for _, value := range []uint16{0x0000, 0xffff, 0x00ff, 0xcafe} {
		sw := &linesim.Switch{Regs: map[uint16]uint16{addr: value}}
		s, w := newSMI(sw)
		v, err := s.ReadRegister(addr)
		if err != nil {
			t.Fatal(err)
		}
		if v != value {
			t.Fatalf("want %#04x, got %#04x", value, v)
		}
		// Master acknowledges the low byte and stops the slave after the high byte.
		if len(sw.HostAcks) != 2 || sw.HostAcks[0] || !sw.HostAcks[1] {
			t.Errorf("%#04x: want host acks [false true], got %v", value, sw.HostAcks)
		}
		frames := validSMI(sniff.DecodeSMI(w.Samples()))
		if len(frames) != 1 {
			t.Fatalf("%#04x: want 1 frame, got %d", value, len(frames))
		}
		f := frames[0]
		if !f.IsRead() || f.Addr() != addr || f.Value() != value {
			t.Errorf("%#04x: bad decoded frame %+v", value, f)
		}
		lo, hi := f.Bytes[3], f.Bytes[4]
		if len(lo.Acks) != 1 || lo.Acks[0] || len(hi.Acks) != 1 || !hi.Acks[0] {
			t.Errorf("%#04x: decoded host acks lo=%v hi=%v", value, lo.Acks, hi.Acks)
		}
	}
}

func TestSMINoAckWrite(t *testing.T) {
	const resetReg = 0x0003
	sw := &linesim.Switch{ResetAddr: resetReg, HasReset: true}
	s, w := newSMI(sw)
	err := s.WriteRegister(resetReg, 0x0001, false)
	if err != nil {
		t.Fatal("no-ack write must not fail:", err)
	}
	if sw.Resets != 1 {
		t.Errorf("want switch reset, got %d resets", sw.Resets)
	}
	// 4 acknowledged bytes, the last one is never sampled.
	if w.DataReads != 4 {
		t.Errorf("want 4 ack samples, got %d", w.DataReads)
	}
	err = s.WriteRegister(resetReg, 0x0001, true)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("acknowledged write to reset register should time out, got %v", err)
	}
}

func TestSMIErrorStage(t *testing.T) {
	s, _ := newSMI()
	err := s.WriteRegister(0x10, 0x20, true)
	if err == nil || err.Error() != "smi: ack timeout on write command byte 0xb8" {
		t.Errorf("unexpected error %v", err)
	}
}

func validSMI(frames []sniff.SMIFrame) (valid []sniff.SMIFrame) {
	for _, f := range frames {
		if f.Valid() {
			valid = append(valid, f)
		}
	}
	return valid
}
