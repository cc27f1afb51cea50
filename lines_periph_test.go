package mdiobridge

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func newPeriphLines(t *testing.T) (*PeriphLines, *gpiotest.Pin, *gpiotest.Pin) {
	t.Helper()
	clk := &gpiotest.Pin{N: "MDC", Num: 5}
	data := &gpiotest.Pin{N: "MDIO", Num: 6}
	var pl PeriphLines
	err := pl.Configure(PeriphConfig{Clock: clk, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	return &pl, clk, data
}

func TestPeriphLinesConfigure(t *testing.T) {
	var pl PeriphLines
	pin := &gpiotest.Pin{N: "X"}
	if err := pl.Configure(PeriphConfig{Clock: pin}); err == nil {
		t.Error("expected error for nil data pin")
	}
	if err := pl.Configure(PeriphConfig{Clock: pin, Data: pin}); err == nil {
		t.Error("expected error for aliased pins")
	}
	_, clk, data := newPeriphLines(t)
	if clk.P != gpio.PullUp || data.P != gpio.PullUp {
		t.Error("released lines should default to pull-up")
	}
	if clk.L != gpio.High || data.L != gpio.High {
		t.Error("released lines should float high")
	}
}

func TestPeriphLinesLatch(t *testing.T) {
	pl, clk, data := newPeriphLines(t)
	// Levels set while released are applied when the line becomes an output.
	pl.SetClock(false)
	if clk.L != gpio.High {
		t.Fatal("released clock was driven")
	}
	pl.SetClockOutput(true)
	if clk.L != gpio.Low {
		t.Fatal("latched clock level not applied")
	}
	pl.SetClock(true)
	if clk.L != gpio.High {
		t.Fatal("clock not driven high")
	}
	pl.SetDataOutput(true)
	pl.SetData(false)
	if data.L != gpio.Low || pl.Data() {
		t.Fatal("data not driven low")
	}
	pl.SetDataOutput(false)
	if !pl.Data() {
		t.Fatal("released data line should read pull-up level")
	}
	if err := pl.Err(); err != nil {
		t.Fatal(err)
	}
}

type faultyPin struct {
	*gpiotest.Pin
}

var errFault = errors.New("fault")

func (f faultyPin) Out(l gpio.Level) error { return errFault }

func TestPeriphLinesErr(t *testing.T) {
	clk := faultyPin{&gpiotest.Pin{N: "MDC"}}
	data := &gpiotest.Pin{N: "MDIO"}
	var pl PeriphLines
	err := pl.Configure(PeriphConfig{Clock: clk, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	var m MDIO
	m.Configure(&pl, 1)
	m.WriteReg(0, 0, 0)
	if err := pl.Err(); !errors.Is(err, errFault) {
		t.Fatal("want pin fault reported, got", err)
	}
	if err := pl.Err(); err != nil {
		t.Fatal("error should be cleared after Err, got", err)
	}
}

func TestPeriphLinesBridge(t *testing.T) {
	pl, _, data := newPeriphLines(t)
	var br Bridge
	err := br.Configure(pl, Config{MDIOHalfPeriod: 1})
	if err != nil {
		t.Fatal(err)
	}
	// Nothing drives the bus: reads return the pull-up level.
	v, err := br.Pull(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xffff {
		t.Errorf("want 0xffff from floating bus, got %#04x", v)
	}
	if data.L != gpio.Low {
		t.Error("data should idle driven low after MDIO transaction")
	}
	if err := pl.Halt(); err != nil {
		t.Fatal(err)
	}
}
