package main

import (
	"strings"
	"testing"
	"time"
)

const sampleLog = `
Connected to /dev/ttyACM0
time=2026-10-19T12:00:00.000Z level=DEBUG msg=bridge:configured proto=MDIO mdio_half=10µs smi_half=20µs smi_retries=5
time=2026-10-19T12:00:00.500Z level=INFO msg=transport:attached product="mdiobridge pico"
time=2026-10-19T12:00:01.000Z level=INFO msg="MDIO read" proto=MDIO dev=1 reg=1 val=0x7809
time=2026-10-19T12:00:02.000Z level=INFO msg="MDIO read" proto=MDIO dev=1 reg=1 val=0x782d
time=2026-10-19T12:00:03.000Z level=INFO msg="MDIO write" proto=MDIO dev=1 reg=0 val=0x1200
time=2026-10-19T12:00:07.000Z level=ERROR msg="SMI read failed" proto=SMI dev=16 reg=32 addr=0x2010 code=1 err="smi: ack timeout on read command byte 0xa9"
garbage�time=2026-10-19T12:00:08.000Z level=INFO msg="MDIO read" proto=MDIO dev=1 reg=1 val=0x782d
`

func TestParse(t *testing.T) {
	pr := Parse(strings.Split(sampleLog, "\n"))
	if len(pr.Accesses) != 5 {
		t.Fatalf("want 5 accesses, got %d", len(pr.Accesses))
	}
	first := pr.Entries[pr.Accesses[0]]
	if first.Kind != KindAccess || first.Proto != "MDIO" || first.Dir != "read" || first.Dev != 1 || first.Reg != 1 || first.Val != 0x7809 {
		t.Errorf("bad first access %+v", first)
	}
	if first.Addr != -1 {
		t.Error("MDIO access should have no SMI address")
	}
	fail := pr.Entries[pr.Accesses[3]]
	if fail.Kind != KindAccessErr || fail.Code != 1 || fail.Addr != 0x2010 || fail.Val != -1 {
		t.Errorf("bad failed access %+v", fail)
	}
	if fail.Err != "smi: ack timeout on read command byte 0xa9" {
		t.Errorf("bad error text %q", fail.Err)
	}
	attached := pr.Entries[3]
	if attached.Kind != KindSlog || attached.Attrs["product"] != "mdiobridge pico" {
		t.Errorf("bad slog entry %+v", attached)
	}
	if pr.Entries[1].Kind != KindApp || pr.Entries[0].Kind != KindUnknown {
		t.Error("misclassified plain lines")
	}
}

func TestAnalyze(t *testing.T) {
	pr := Parse(strings.Split(sampleLog, "\n"))
	count, errs, dur := Summary(pr)
	if count != 5 || errs != 1 || dur != 7*time.Second {
		t.Errorf("summary: count=%d errs=%d dur=%s", count, errs, dur)
	}
	targets := GroupByTarget(pr)
	if len(targets) != 3 {
		t.Fatalf("want 3 targets, got %d", len(targets))
	}
	bmsr := targets[0]
	if bmsr.Target != (Target{Proto: "MDIO", Dev: 1, Reg: 1}) || bmsr.Reads != 3 || bmsr.Values != 2 || bmsr.Changes != 1 || bmsr.LastVal != 0x782d {
		t.Errorf("bad stats for BMSR %+v", bmsr)
	}
	codes := CodeHistogram(pr)
	if len(codes) != 1 || codes[0].Code != 1 || codes[0].Count != 1 {
		t.Errorf("bad code histogram %+v", codes)
	}
	ts := TimeSeries(pr, 5*time.Second)
	if len(ts) != 2 || ts[0].Count != 3 || ts[1].Count != 2 || ts[1].Errors != 1 {
		t.Errorf("bad time series %+v", ts)
	}
}
