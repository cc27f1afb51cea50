package main

import (
	"testing"

	"github.com/soypat/mdiobridge"
	"github.com/soypat/mdiobridge/internal/linesim"
)

func simBridge(t *testing.T) (*mdiobridge.Bridge, *linesim.PHY) {
	t.Helper()
	dev := &linesim.PHY{Addr: 1}
	dev.Regs[1] = 0x7809
	dev.Regs[2] = 0x0007
	dev.Regs[3] = 0xc0f1
	br := new(mdiobridge.Bridge)
	err := br.Configure(linesim.NewWire(dev), mdiobridge.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return br, dev
}

func TestParseArgs(t *testing.T) {
	got, err := parseArgs([]string{"1", "0x1f", "65535"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != 0x1f || got[2] != 0xffff {
		t.Error("bad parse", got)
	}
	if _, err := parseArgs([]string{"1"}, 2); err == nil {
		t.Error("expected argument count error")
	}
	if _, err := parseArgs([]string{"65536"}, 1); err == nil {
		t.Error("expected range error")
	}
}

func TestStressPatterns(t *testing.T) {
	br, dev := simBridge(t)
	dev.Regs[0x10] = 0x1234
	for _, p := range patterns {
		var s stats
		p.fn(br, 1, 0x10, &s, 20, 4)
		if s.failed.Load() != 0 || s.mismatches.Load() != 0 {
			t.Errorf("%s: %s", p.name, &s)
		}
		if s.succeeded.Load() != 20 {
			t.Errorf("%s: want 20 successes, got %s", p.name, &s)
		}
	}
	if dev.Regs[0x10] != 0x1234 {
		t.Errorf("write-readback did not restore register, got %#04x", dev.Regs[0x10])
	}
}

func TestAccessBus(t *testing.T) {
	br, _ := simBridge(t)
	// Force the generic adapter path used for remote bridges.
	bus := accessBus{br}
	v, err := bus.Read(1, 0, 2)
	if err != nil || v != 0x0007 {
		t.Fatalf("read: %#04x %v", v, err)
	}
	if _, err := bus.Read(1, 3, 2); err == nil {
		t.Error("clause 45 access should fail")
	}
	id, err := identify(br, 1)
	if err != nil {
		t.Fatal(err)
	}
	if id != mdiobridge.DecodePHYID(0x0007, 0xc0f1) {
		t.Errorf("unexpected id %+v", id)
	}
}
