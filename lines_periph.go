package mdiobridge

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

var _ Lines = (*PeriphLines)(nil) // compile time guarantee of interface implementation.

// PeriphLines implements [Lines] over periph.io GPIO pins, for bridges running on
// a Linux host such as a Raspberry Pi. Released lines are configured as inputs
// with the configured pull so the bus floats high, as MDIO and SMI expect.
//
// Pin errors do not abort a transaction. The first error is kept and
// returned by Err, which the [Bridge] checks after every request.
type PeriphLines struct {
	clk, data gpio.PinIO
	pull      gpio.Pull
	clkOut    bool
	dataOut   bool
	clkLevel  gpio.Level
	dataLevel gpio.Level
	err       error
}

// PeriphConfig configures [PeriphLines].
type PeriphConfig struct {
	// Clock is the MDC pin.
	Clock gpio.PinIO
	// Data is the MDIO/SDA pin.
	Data gpio.PinIO
	// Pull is applied to released lines. Defaults to gpio.PullUp.
	Pull gpio.Pull
}

// Configure takes both pins and releases them as inputs.
func (pl *PeriphLines) Configure(cfg PeriphConfig) error {
	if cfg.Clock == nil || cfg.Data == nil {
		return errors.New("nil pin")
	} else if cfg.Clock == cfg.Data {
		return errors.New("clock and data must be different pins")
	}
	if cfg.Pull == gpio.PullNoChange {
		cfg.Pull = gpio.PullUp
	}
	*pl = PeriphLines{clk: cfg.Clock, data: cfg.Data, pull: cfg.Pull}
	err := pl.clk.In(pl.pull, gpio.NoEdge)
	if err != nil {
		return err
	}
	return pl.data.In(pl.pull, gpio.NoEdge)
}

func (pl *PeriphLines) SetClockOutput(output bool) {
	pl.clkOut = output
	pl.direction(pl.clk, output, pl.clkLevel)
}

func (pl *PeriphLines) SetDataOutput(output bool) {
	pl.dataOut = output
	pl.direction(pl.data, output, pl.dataLevel)
}

func (pl *PeriphLines) SetClock(high bool) {
	pl.clkLevel = gpio.Level(high)
	if pl.clkOut {
		pl.check(pl.clk.Out(pl.clkLevel))
	}
}

func (pl *PeriphLines) SetData(high bool) {
	pl.dataLevel = gpio.Level(high)
	if pl.dataOut {
		pl.check(pl.data.Out(pl.dataLevel))
	}
}

func (pl *PeriphLines) Data() bool {
	return pl.data.Read() == gpio.High
}

func (pl *PeriphLines) Delay(d time.Duration) {
	BusyWait(d)
}

// Err returns the first pin error since the last call to Err and clears it.
func (pl *PeriphLines) Err() error {
	err := pl.err
	pl.err = nil
	return err
}

// Halt releases both pins.
func (pl *PeriphLines) Halt() error {
	return errors.Join(pl.clk.Halt(), pl.data.Halt())
}

func (pl *PeriphLines) direction(p gpio.PinIO, output bool, level gpio.Level) {
	if output {
		pl.check(p.Out(level))
	} else {
		pl.check(p.In(pl.pull, gpio.NoEdge))
	}
}

func (pl *PeriphLines) check(err error) {
	if err != nil && pl.err == nil {
		pl.err = err
	}
}
