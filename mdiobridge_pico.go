//go:build rp2040 || rp2350

package mdiobridge

import (
	"errors"
	"machine"
	"time"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoConfig holds configuration for creating a bridge on RP2040/RP2350.
type PicoConfig struct {
	// MDC is the clock pin shared by MDIO and SMI.
	MDC machine.Pin
	// MDIO is the data pin shared by MDIO and SMI.
	MDIO machine.Pin
	// PIO, if set, generates the MDIO preamble clock burst with a PIO state machine
	// instead of bit-banging 32 pulses. Use pio.PIO0 or pio.PIO1.
	PIO *pio.PIO
	// Bridge configures protocol selection, timings and logging.
	Bridge Config
}

// picoLines implements Lines over machine pins. Released lines are inputs with pull-up.
type picoLines struct {
	mdc, mdio machine.Pin
	pinMode   machine.PinMode
	pulsar    *piolib.Pulsar
}

// Lines implementation.

func (p *picoLines) SetClockOutput(output bool) {
	setPinOutput(p.mdc, output)
}

func (p *picoLines) SetDataOutput(output bool) {
	setPinOutput(p.mdio, output)
}

func (p *picoLines) SetClock(high bool) {
	p.mdc.Set(high)
}

func (p *picoLines) SetData(high bool) {
	p.mdio.Set(high)
}

func (p *picoLines) Data() bool {
	return p.mdio.Get()
}

func (p *picoLines) Delay(d time.Duration) {
	// time.Sleep yields to the scheduler and stretches pulses. Busy wait instead.
	BusyWait(d)
}

// BurstClock hands MDC to the PIO pulsar and takes it back as an output driven
// high. The pulsar leaves the pin low after each pulse so it is queued n-1 pulses
// and the n-th rising edge is the hand-back. Only present when a PIO block was configured.
func (p *picoLines) BurstClock(n int, halfPeriod time.Duration) {
	queue, wait := pulsarPlan(n, halfPeriod)
	p.mdc.Configure(machine.PinConfig{Mode: p.pinMode})
	err := p.pulsar.SetPeriod(2 * halfPeriod)
	if err == nil && queue > 0 {
		err = p.pulsar.TryQueue(uint32(queue))
	}
	if err != nil {
		// Fall back to bit-banging so the frame is still well formed.
		p.mdc.Low()
		p.mdc.Configure(machine.PinConfig{Mode: machine.PinOutput})
		for range n {
			p.mdc.Low()
			BusyWait(halfPeriod)
			p.mdc.High()
			BusyWait(halfPeriod)
		}
		return
	}
	// Queued only reports the TX FIFO level, wait out the pulses themselves.
	BusyWait(wait)
	p.mdc.High()
	p.mdc.Configure(machine.PinConfig{Mode: machine.PinOutput})
	BusyWait(halfPeriod)
}

func setPinOutput(pin machine.Pin, output bool) {
	if output {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	} else {
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
}

// NewPicoBridge creates and configures a Bridge for RP2040/RP2350 driving
// the MDC and MDIO pins directly.
func NewPicoBridge(cfg PicoConfig) (*Bridge, error) {
	if cfg.MDC == cfg.MDIO {
		return nil, errors.New("aliased pins, check pin definitions")
	}
	lines, err := makeLines(cfg)
	if err != nil {
		return nil, err
	}
	var br Bridge
	err = br.Configure(lines, cfg.Bridge)
	if err != nil {
		return nil, err
	}
	return &br, nil
}

// makeLines sets up both pins released with pull-ups, the bus idle state.
func makeLines(cfg PicoConfig) (Lines, error) {
	setPinOutput(cfg.MDC, false)
	setPinOutput(cfg.MDIO, false)
	lines := &picoLines{mdc: cfg.MDC, mdio: cfg.MDIO}
	if cfg.PIO == nil {
		// Plain lines do not implement ClockBurster.
		return plainLines{lines}, nil
	}
	sm, err := cfg.PIO.ClaimStateMachine()
	if err != nil {
		return nil, err
	}
	lines.pulsar, err = piolib.NewPulsar(sm, cfg.MDC)
	if err != nil {
		return nil, err
	}
	lines.pinMode = cfg.PIO.PinMode()
	// NewPulsar hands the pin to PIO, take it back until the first preamble.
	setPinOutput(cfg.MDC, false)
	return lines, nil
}

// plainLines hides BurstClock from the MDIO engine.
type plainLines struct {
	p *picoLines
}

func (l plainLines) SetClockOutput(output bool) { l.p.SetClockOutput(output) }
func (l plainLines) SetDataOutput(output bool)  { l.p.SetDataOutput(output) }
func (l plainLines) SetClock(high bool)         { l.p.SetClock(high) }
func (l plainLines) SetData(high bool)          { l.p.SetData(high) }
func (l plainLines) Data() bool                 { return l.p.Data() }
func (l plainLines) Delay(d time.Duration)      { l.p.Delay(d) }
