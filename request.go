package mdiobridge

import (
	"errors"
	"strconv"
	"strings"
)

// Protocol selects the management bus framing of a [Request].
type Protocol uint8

const (
	// ProtocolMDIO is IEEE 802.3 clause 22 MDIO, used by Ethernet PHYs.
	ProtocolMDIO Protocol = iota
	// ProtocolSMI is the Realtek switch management interface.
	ProtocolSMI
)

func (p Protocol) String() string {
	switch p {
	case ProtocolMDIO:
		return "MDIO"
	case ProtocolSMI:
		return "SMI"
	default:
		return "Protocol(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParseProtocol parses "mdio" or "smi", case insensitive.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "mdio":
		return ProtocolMDIO, nil
	case "smi":
		return ProtocolSMI, nil
	}
	return 0, errors.New("unknown protocol " + strconv.Quote(s))
}

// Direction of a register access.
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Request is a single register access. A request runs to completion before the
// next one starts.
type Request struct {
	Protocol Protocol
	Dir      Direction
	// Device is the PHY address for MDIO (0-31). For SMI it is folded together
	// with Register into a 16-bit address by the bridge's [AddressMapper].
	Device uint8
	// Register is the register address for MDIO (0-31).
	Register uint8
	// Value is the payload of a write. Ignored on reads.
	Value uint16
	// NoAck sends the last SMI data byte without waiting for acknowledgment.
	// Needed for writes that reset the switch. Ignored for MDIO and reads.
	NoAck bool
}

// AddressMapper folds a device and register byte pair into a 16-bit SMI register address.
type AddressMapper func(dev, reg uint8) uint16

// AddrRegHigh places the register byte in the high byte and the device
// byte in the low byte of the SMI address. Default mapper.
func AddrRegHigh(dev, reg uint8) uint16 {
	return uint16(reg)<<8 | uint16(dev)
}

// AddrDevHigh places the device byte in the high byte and the register
// byte in the low byte of the SMI address.
func AddrDevHigh(dev, reg uint8) uint16 {
	return uint16(dev)<<8 | uint16(reg)
}

var (
	// ErrInvalidAddress is returned for MDIO device or register addresses above 31.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrUnsupported is returned for unknown protocols and clause 45 accesses.
	ErrUnsupported = errors.New("unsupported")
	// ErrNotConfigured is returned when using a bridge before Configure.
	ErrNotConfigured = errors.New("bridge not configured")
)

// Error codes reported to hosts by transports, see [ErrorCode].
const (
	CodeOK             uint8 = 0
	CodeAckTimeout     uint8 = 1
	CodeInvalidAddress uint8 = 2
	CodeUnsupported    uint8 = 3
	CodeNotConfigured  uint8 = 4
	CodeOther          uint8 = 0xff
)

// ErrorCode maps an error returned by the bridge to a stable numeric code.
func ErrorCode(err error) uint8 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrAckTimeout):
		return CodeAckTimeout
	case errors.Is(err, ErrInvalidAddress):
		return CodeInvalidAddress
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupported
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured
	}
	return CodeOther
}

// CodeError returns the sentinel error for a code reported by a remote bridge,
// the inverse of [ErrorCode]. Unknown codes yield a generic error.
func CodeError(code uint8) error {
	switch code {
	case CodeOK:
		return nil
	case CodeAckTimeout:
		return ErrAckTimeout
	case CodeInvalidAddress:
		return ErrInvalidAddress
	case CodeUnsupported:
		return ErrUnsupported
	case CodeNotConfigured:
		return ErrNotConfigured
	}
	return errors.New("bridge error code " + strconv.Itoa(int(code)))
}
