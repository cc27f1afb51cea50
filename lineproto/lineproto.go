// Package lineproto implements a line oriented text protocol carrying bridge
// register requests over a byte stream such as a USB CDC serial port.
//
// Every request and response is a single line terminated by '\n'. A trailing
// '\r' is ignored. Numbers are decimal or 0x prefixed hexadecimal.
//
//	R <dev> <reg>          read register    -> V <value> | E <code>
//	W <dev> <reg> <value>  write register   -> K | E <code>
//	P <mdio|smi>           select protocol  -> K | E <code>
//	I                      identify         -> I <product>
//
// Values in responses are always 0x prefixed hexadecimal and codes are the
// decimal error codes of [mdiobridge.ErrorCode].
package lineproto

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/soypat/mdiobridge"
)

// MaxLine is the longest accepted request line, terminator included.
const MaxLine = 64

// CodeBadRequest is reported for malformed or overlong request lines.
const CodeBadRequest uint8 = 0xfe

// compile time guarantee of interface implementation.
var (
	_ mdiobridge.Transport        = (*Port)(nil)
	_ mdiobridge.ProtocolSelector = (*Port)(nil)
)

// PortConfig configures a [Port].
type PortConfig struct {
	// Product is returned by identify requests.
	Product string
	// Logger logs malformed requests. May be nil.
	Logger *slog.Logger
}

// Port serves bridge requests arriving on a byte stream. It implements
// [mdiobridge.Transport]: the port is considered configured once the host
// sends its first identify request.
type Port struct {
	rw      io.ReadWriter
	product string
	logger  *slog.Logger

	mu         sync.Mutex
	pull       mdiobridge.PullFunc
	push       mdiobridge.PushFunc
	setProto   func(mdiobridge.Protocol) error
	configured bool

	buf     [MaxLine]byte
	n       int
	discard bool // Dropping the rest of an overlong line.
	out     []byte
}

// NewPort returns a port serving requests read from rw. Responses are written to rw.
func NewPort(rw io.ReadWriter, cfg PortConfig) *Port {
	return &Port{rw: rw, product: cfg.Product, logger: cfg.Logger, out: make([]byte, 0, 32)}
}

// Configure registers the request callbacks.
func (p *Port) Configure(pull mdiobridge.PullFunc, push mdiobridge.PushFunc) error {
	if pull == nil || push == nil {
		return errors.New("nil callback")
	}
	p.mu.Lock()
	p.pull, p.push = pull, push
	p.mu.Unlock()
	return nil
}

// ConfigureProtocol registers the callback serving protocol selection requests.
func (p *Port) ConfigureProtocol(set func(mdiobridge.Protocol) error) error {
	if set == nil {
		return errors.New("nil callback")
	}
	p.mu.Lock()
	p.setProto = set
	p.mu.Unlock()
	return nil
}

// Configured reports whether the host has identified the port.
func (p *Port) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configured
}

func (p *Port) ProductString() string { return p.product }

// Poll reads once from the stream and handles every complete line received.
// It returns the error of the read or of writing a response.
func (p *Port) Poll() error {
	_, err := p.poll()
	return err
}

// Serve polls the stream until ctx is done or a stream error occurs.
// Requests arriving before [Port.Configure] are answered with [mdiobridge.CodeNotConfigured].
func (p *Port) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := p.poll()
		if err != nil {
			return err
		}
		if n == 0 {
			// Nothing buffered on the serial port. Let other goroutines run.
			time.Sleep(time.Millisecond)
		}
	}
}

func (p *Port) poll() (int, error) {
	n, err := p.rw.Read(p.buf[p.n:])
	if n == 0 {
		return 0, err
	}
	p.n += n
	for {
		idx := bytes.IndexByte(p.buf[:p.n], '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		var werr error
		if p.discard {
			p.discard = false
		} else {
			werr = p.handle(line)
		}
		p.n = copy(p.buf[:], p.buf[idx+1:p.n])
		if werr != nil {
			return n, werr
		}
	}
	if p.n == len(p.buf) {
		// Overlong line: answer once and drop bytes until the next newline.
		p.n = 0
		if !p.discard {
			p.discard = true
			p.logdebug("lineproto:overlong")
			if werr := p.respondCode(CodeBadRequest); werr != nil {
				return n, werr
			}
		}
	}
	return n, err
}

func (p *Port) handle(line []byte) error {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil // Keepalive.
	}
	if len(fields[0]) != 1 {
		return p.badRequest(line)
	}
	cmd := fields[0][0]
	args := fields[1:]
	switch cmd {
	case 'I', 'i':
		if len(args) != 0 {
			return p.badRequest(line)
		}
		p.mu.Lock()
		p.configured = true
		p.mu.Unlock()
		p.out = append(p.out[:0], "I "...)
		p.out = append(p.out, p.product...)
		return p.flush()

	case 'R', 'r':
		if len(args) != 2 {
			return p.badRequest(line)
		}
		dev, err1 := parseNum(args[0], 8)
		reg, err2 := parseNum(args[1], 8)
		if err1 != nil || err2 != nil {
			return p.badRequest(line)
		}
		pull, _ := p.callbacks()
		if pull == nil {
			return p.respondCode(mdiobridge.CodeNotConfigured)
		}
		v, err := pull(uint8(dev), uint8(reg))
		if err != nil {
			return p.respondCode(mdiobridge.ErrorCode(err))
		}
		p.out = append(p.out[:0], "V 0x"...)
		p.out = appendHex16(p.out, v)
		return p.flush()

	case 'W', 'w':
		if len(args) != 3 {
			return p.badRequest(line)
		}
		dev, err1 := parseNum(args[0], 8)
		reg, err2 := parseNum(args[1], 8)
		val, err3 := parseNum(args[2], 16)
		if err1 != nil || err2 != nil || err3 != nil {
			return p.badRequest(line)
		}
		_, push := p.callbacks()
		if push == nil {
			return p.respondCode(mdiobridge.CodeNotConfigured)
		}
		err := push(uint8(dev), uint8(reg), uint16(val))
		if err != nil {
			return p.respondCode(mdiobridge.ErrorCode(err))
		}
		p.out = append(p.out[:0], 'K')
		return p.flush()

	case 'P', 'p':
		if len(args) != 1 {
			return p.badRequest(line)
		}
		proto, err := mdiobridge.ParseProtocol(string(args[0]))
		if err != nil {
			return p.respondCode(mdiobridge.CodeUnsupported)
		}
		p.mu.Lock()
		set := p.setProto
		p.mu.Unlock()
		if set == nil {
			return p.respondCode(mdiobridge.CodeNotConfigured)
		}
		err = set(proto)
		if err != nil {
			return p.respondCode(mdiobridge.ErrorCode(err))
		}
		p.out = append(p.out[:0], 'K')
		return p.flush()
	}
	return p.badRequest(line)
}

func (p *Port) callbacks() (mdiobridge.PullFunc, mdiobridge.PushFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull, p.push
}

func (p *Port) badRequest(line []byte) error {
	p.logdebug("lineproto:bad-request", slog.String("line", string(line)))
	return p.respondCode(CodeBadRequest)
}

func (p *Port) respondCode(code uint8) error {
	p.out = append(p.out[:0], "E "...)
	p.out = strconv.AppendUint(p.out, uint64(code), 10)
	return p.flush()
}

func (p *Port) flush() error {
	p.out = append(p.out, '\n')
	_, err := p.rw.Write(p.out)
	return err
}

func (p *Port) logdebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

// parseNum parses a decimal or 0x prefixed hexadecimal number that fits in bits.
func parseNum(b []byte, bits int) (uint64, error) {
	return strconv.ParseUint(string(b), 0, bits)
}

func appendHex16(dst []byte, v uint16) []byte {
	const hextable = "0123456789abcdef"
	return append(dst, hextable[v>>12], hextable[v>>8&0xf], hextable[v>>4&0xf], hextable[v&0xf])
}
