// Package mdiobridge bridges host register requests to bit-banged Ethernet
// management buses.
//
// Two protocols share the same clock and data lines: IEEE 802.3 clause 22 MDIO
// for PHYs and the Realtek SMI protocol for switch ASICs (RTL8305, RTL8366,
// RTL8367, RTL8370 and friends). A [Bridge] owns the [Lines] and routes each
// [Request] to the engine selected by the request's protocol. Hardware access
// is injected through [Lines] so the engines can run against real pins, a Linux
// GPIO character device or a simulated wire.
package mdiobridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/lneto/phy"
)

// Config holds the configuration parameters for a [Bridge].
type Config struct {
	// Protocol is used for requests arriving through [Bridge.Pull] and [Bridge.Push].
	Protocol Protocol
	// MDIOHalfPeriod is the MDC half period. Defaults to [DefaultMDIOHalfPeriod].
	MDIOHalfPeriod time.Duration
	// SMIHalfPeriod is the SMI clock half period. Defaults to [DefaultSMIHalfPeriod].
	SMIHalfPeriod time.Duration
	// SMIAckRetries is the retry budget after a NACK. Defaults to [DefaultSMIAckRetries].
	SMIAckRetries int
	// SMIAddr folds a request's device and register into an SMI address.
	// Defaults to [AddrRegHigh].
	SMIAddr AddressMapper
	// Logger logs every register access. May be nil.
	Logger *slog.Logger
}

// Bridge dispatches register requests to the MDIO and SMI engines. Both engines
// drive the same Lines so Bridge serializes all requests; it is safe for concurrent use.
type Bridge struct {
	mu           sync.Mutex
	lines        Lines
	mdio         MDIO
	smi          SMI
	proto        Protocol
	smiAddr      AddressMapper
	logger       *slog.Logger
	traceEnabled bool
}

// Configure initializes the bridge as the sole owner of lines.
func (br *Bridge) Configure(lines Lines, cfg Config) error {
	if lines == nil {
		return errors.New("nil lines")
	} else if cfg.Protocol > ProtocolSMI {
		return ErrUnsupported
	}
	if cfg.SMIAddr == nil {
		cfg.SMIAddr = AddrRegHigh
	}
	br.mu.Lock()
	defer br.mu.Unlock()
	br.lines = lines
	br.mdio.Configure(lines, cfg.MDIOHalfPeriod)
	br.smi.Configure(lines, cfg.SMIHalfPeriod, cfg.SMIAckRetries)
	br.proto = cfg.Protocol
	br.smiAddr = cfg.SMIAddr
	br.logger = cfg.Logger
	br.traceEnabled = br.logger != nil && br.logger.Handler().Enabled(context.Background(), levelTrace)
	br.debug("bridge:configured",
		slog.String("proto", cfg.Protocol.String()),
		slog.Duration("mdio_half", br.mdio.c.half),
		slog.Duration("smi_half", br.smi.c.half),
		slog.Int("smi_retries", br.smi.retries),
	)
	return nil
}

// Protocol returns the protocol used for transport requests.
func (br *Bridge) Protocol() Protocol {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.proto
}

// SetProtocol changes the protocol used for transport requests.
func (br *Bridge) SetProtocol(p Protocol) error {
	if p > ProtocolSMI {
		return ErrUnsupported
	}
	br.mu.Lock()
	br.proto = p
	br.mu.Unlock()
	return nil
}

// Dispatch performs req on the wire. For reads the register value is returned, for writes
// the returned value is zero. MDIO reads never fail at the protocol level, an absent
// PHY yields whatever the line floats to.
func (br *Bridge) Dispatch(req Request) (uint16, error) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.lines == nil {
		return 0, ErrNotConfigured
	}
	var smiAddr uint16
	if req.Protocol == ProtocolSMI {
		smiAddr = br.smiAddr(req.Device, req.Register)
	}
	if req.Dir == Write {
		br.trace("access:start", append(reqAttrs(&req, smiAddr), slog.String("val", hex16(req.Value)))...)
	} else {
		br.trace("access:start", reqAttrs(&req, smiAddr)...)
	}
	v, err := br.do(&req, smiAddr)
	attrs := reqAttrs(&req, smiAddr)
	if err != nil {
		br.logerr(req.Protocol.String()+" "+req.Dir.String()+" failed", append(attrs,
			slog.Uint64("code", uint64(ErrorCode(err))),
			slog.String("err", err.Error()),
		)...)
		return 0, err
	}
	if req.Dir == Write {
		v = req.Value
	}
	br.info(req.Protocol.String()+" "+req.Dir.String(), append(attrs, slog.String("val", hex16(v)))...)
	if req.Dir == Write {
		return 0, nil
	}
	return v, nil
}

func (br *Bridge) do(req *Request, smiAddr uint16) (v uint16, err error) {
	switch req.Protocol {
	case ProtocolMDIO:
		if req.Device > 31 || req.Register > 31 {
			return 0, ErrInvalidAddress
		}
		if req.Dir == Write {
			br.mdio.WriteReg(req.Device, req.Register, req.Value)
		} else {
			v = br.mdio.ReadReg(req.Device, req.Register)
		}
	case ProtocolSMI:
		if req.Dir == Write {
			err = br.smi.WriteRegister(smiAddr, req.Value, !req.NoAck)
		} else {
			v, err = br.smi.ReadRegister(smiAddr)
		}
	default:
		return 0, ErrUnsupported
	}
	if le, ok := br.lines.(interface{ Err() error }); ok {
		if lerr := le.Err(); lerr != nil {
			err = errors.Join(err, lerr)
		}
	}
	return v, err
}

// Pull reads register reg of device dev using the configured protocol.
// It matches [PullFunc] and is meant to be registered with a [Transport].
func (br *Bridge) Pull(dev, reg uint8) (uint16, error) {
	return br.Dispatch(Request{Protocol: br.Protocol(), Dir: Read, Device: dev, Register: reg})
}

// Push writes value to register reg of device dev using the configured protocol.
// It matches [PushFunc] and is meant to be registered with a [Transport].
func (br *Bridge) Push(dev, reg uint8, value uint16) error {
	_, err := br.Dispatch(Request{Protocol: br.Protocol(), Dir: Write, Device: dev, Register: reg, Value: value})
	return err
}

// PullFunc serves a host read request.
type PullFunc func(dev, reg uint8) (uint16, error)

// PushFunc serves a host write request.
type PushFunc func(dev, reg uint8, value uint16) error

// Transport is the host facing side of the bridge, typically a USB device stack.
// It delivers requests by calling the registered callbacks one at a time.
type Transport interface {
	// Configure registers the request callbacks.
	Configure(pull PullFunc, push PushFunc) error
	// Configured reports whether the host has configured the transport.
	Configured() bool
	// ProductString identifies the transport, used for startup logging.
	ProductString() string
}

// ProtocolSelector is implemented by transports that let the host choose the
// protocol of its requests.
type ProtocolSelector interface {
	// ConfigureProtocol registers the callback that changes the protocol.
	ConfigureProtocol(set func(Protocol) error) error
}

// Attach registers the bridge's callbacks with t and blocks until the
// transport is configured by the host or ctx is done. If t is a [ProtocolSelector]
// it is also handed [Bridge.SetProtocol].
func (br *Bridge) Attach(ctx context.Context, t Transport) error {
	const pollInterval = time.Millisecond
	br.mu.Lock()
	configured := br.lines != nil
	br.mu.Unlock()
	if !configured {
		return ErrNotConfigured
	}
	err := t.Configure(br.Pull, br.Push)
	if err != nil {
		return err
	}
	if ps, ok := t.(ProtocolSelector); ok {
		err = ps.ConfigureProtocol(br.SetProtocol)
		if err != nil {
			return err
		}
	}
	br.info("transport:attached", slog.String("product", t.ProductString()))
	for !t.Configured() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(pollInterval)
	}
	br.info("transport:configured")
	return nil
}

var _ phy.MDIOBus = phyBus{} // compile time guarantee of interface implementation.

// phyBus exposes the bridge's MDIO engine as a clause 22 only phy.MDIOBus.
type phyBus struct {
	br *Bridge
}

func (b phyBus) Read(phyAddr, devAddr uint8, regAddr uint16) (uint16, error) {
	if devAddr != 0 {
		return 0xffff, ErrUnsupported
	} else if regAddr > 31 {
		return 0xffff, ErrInvalidAddress
	}
	return b.br.Dispatch(Request{Protocol: ProtocolMDIO, Dir: Read, Device: phyAddr, Register: uint8(regAddr)})
}

func (b phyBus) Write(phyAddr, devAddr uint8, regAddr, value uint16) error {
	if devAddr != 0 {
		return ErrUnsupported
	} else if regAddr > 31 {
		return ErrInvalidAddress
	}
	_, err := b.br.Dispatch(Request{Protocol: ProtocolMDIO, Dir: Write, Device: phyAddr, Register: uint8(regAddr), Value: value})
	return err
}

// PHYBus returns the bridge's MDIO side as a phy.MDIOBus. Clause 45 accesses
// (non-zero devAddr) are rejected with [ErrUnsupported].
func (br *Bridge) PHYBus() phy.MDIOBus {
	return phyBus{br: br}
}

// PHY returns a clause 22 PHY device at addr on the bridge's MDIO bus.
func (br *Bridge) PHY(addr uint8) (*phy.Device, error) {
	dev := new(phy.Device)
	err := dev.ConfigureAs22(br.PHYBus(), addr)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// ScanPHYs probes all 32 MDIO addresses and writes those that respond to dst,
// which must have room for 32 addresses. MDIO has no acknowledgment so presence
// is inferred from the basic status register not reading as all ones or all zeros.
func (br *Bridge) ScanPHYs(dst []uint8) (int, error) {
	if len(dst) < 32 {
		return 0, errors.New("scan buffer needs room for 32 addresses")
	}
	return phy.FindClause22PHYs(br.PHYBus(), dst)
}

// PHYID is the decoded content of the PHY identifier registers 2 and 3.
type PHYID struct {
	// OUI holds bits 3 to 24 of the manufacturer's organizationally unique identifier.
	OUI      uint32
	Model    uint8
	Revision uint8
}

// IdentifyPHY reads the identifier registers of the PHY at addr.
func (br *Bridge) IdentifyPHY(addr uint8) (PHYID, error) {
	dev, err := br.PHY(addr)
	if err != nil {
		return PHYID{}, err
	}
	id1, err := dev.ID1()
	if err != nil {
		return PHYID{}, err
	}
	id2, err := dev.ID2()
	if err != nil {
		return PHYID{}, err
	}
	return DecodePHYID(id1, id2), nil
}

// DecodePHYID splits the PHY identifier registers 2 and 3 into their fields.
func DecodePHYID(id1, id2 uint16) PHYID {
	return PHYID{
		OUI:      uint32(id1)<<6 | uint32(id2>>10),
		Model:    uint8(id2>>4) & 0x3f,
		Revision: uint8(id2 & 0xf),
	}
}
