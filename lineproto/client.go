package lineproto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/soypat/mdiobridge"
)

// ErrBadResponse is returned when the remote bridge answers with an unexpected line.
var ErrBadResponse = errors.New("lineproto: bad response")

// Client issues register requests to a remote bridge served by a [Port].
// It is safe for concurrent use; requests are serialized.
type Client struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	r   *bufio.Reader
	out []byte
}

// NewClient returns a client talking over rw, typically a serial port.
func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw, r: bufio.NewReaderSize(rw, MaxLine)}
}

// Identify sends the identify request, which also marks the remote port as
// configured, and returns the bridge's product string.
func (c *Client) Identify() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out[:0], 'I')
	line, err := c.roundtrip()
	if err != nil {
		return "", err
	}
	product, ok := strings.CutPrefix(line, "I ")
	if !ok && line != "I" {
		return "", badResponse(line)
	}
	return product, nil
}

// Pull reads register reg of device dev. It matches [mdiobridge.PullFunc].
func (c *Client) Pull(dev, reg uint8) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out[:0], "R "...)
	c.out = strconv.AppendUint(c.out, uint64(dev), 10)
	c.out = append(c.out, ' ')
	c.out = strconv.AppendUint(c.out, uint64(reg), 10)
	line, err := c.roundtrip()
	if err != nil {
		return 0, err
	}
	hex, ok := strings.CutPrefix(line, "V ")
	if !ok {
		return 0, badResponse(line)
	}
	v, err := strconv.ParseUint(hex, 0, 16)
	if err != nil {
		return 0, badResponse(line)
	}
	return uint16(v), nil
}

// Push writes value to register reg of device dev. It matches [mdiobridge.PushFunc].
func (c *Client) Push(dev, reg uint8, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out[:0], "W "...)
	c.out = strconv.AppendUint(c.out, uint64(dev), 10)
	c.out = append(c.out, ' ')
	c.out = strconv.AppendUint(c.out, uint64(reg), 10)
	c.out = append(c.out, " 0x"...)
	c.out = strconv.AppendUint(c.out, uint64(value), 16)
	line, err := c.roundtrip()
	if err != nil {
		return err
	}
	if line != "K" {
		return badResponse(line)
	}
	return nil
}

// SetProtocol selects the protocol the remote bridge uses for following requests.
func (c *Client) SetProtocol(proto mdiobridge.Protocol) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out[:0], "P "...)
	c.out = append(c.out, strings.ToLower(proto.String())...)
	line, err := c.roundtrip()
	if err != nil {
		return err
	}
	if line != "K" {
		return badResponse(line)
	}
	return nil
}

// roundtrip sends the request in c.out and returns the response line without
// its terminator. Error responses are converted to bridge errors.
func (c *Client) roundtrip() (string, error) {
	c.out = append(c.out, '\n')
	_, err := c.rw.Write(c.out)
	if err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if code, ok := strings.CutPrefix(line, "E "); ok {
		n, err := strconv.ParseUint(code, 10, 8)
		if err != nil || n == uint64(mdiobridge.CodeOK) {
			return "", badResponse(line)
		}
		if uint8(n) == CodeBadRequest {
			return "", errors.New("lineproto: request rejected by bridge")
		}
		return "", mdiobridge.CodeError(uint8(n))
	}
	return line, nil
}

func badResponse(line string) error {
	return fmt.Errorf("%w: %q", ErrBadResponse, line)
}
