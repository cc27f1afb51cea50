// mdiotool reads and writes Ethernet PHY and switch registers, either through a
// bridge running on a Pico (USB serial) or by bit-banging GPIO pins of the host.
//
// Usage:
//
//	mdiotool -serial /dev/ttyACM0 read 1 2
//	mdiotool -mdc GPIO17 -mdio GPIO27 write 1 0 0x1200
//	mdiotool -mdc GPIO17 -mdio GPIO27 -proto smi read 0x10 0x20
//	mdiotool -serial /dev/ttyACM0 scan
//	mdiotool -serial /dev/ttyACM0 -n 1000 -c 4 stress 1 2
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/lneto/phy"
	"github.com/soypat/mdiobridge"
	"github.com/soypat/mdiobridge/lineproto"
	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// regAccess is implemented by both a local *mdiobridge.Bridge and a remote *lineproto.Client.
type regAccess interface {
	Pull(dev, reg uint8) (uint16, error)
	Push(dev, reg uint8, value uint16) error
}

type command struct {
	name  string
	args  string
	nargs int
	fn    func(acc regAccess, args []uint16) error
}

var commands = []command{
	{"read", "<dev> <reg>", 2, cmdRead},
	{"write", "<dev> <reg> <value>", 3, cmdWrite},
	{"scan", "", 0, cmdScan},
	{"dump", "<phy>", 1, cmdDump},
	{"stress", "<dev> <reg>", 2, cmdStress},
}

var (
	flagN    = flag.Int("n", 200, "stress iterations per pattern")
	flagC    = flag.Int("c", 4, "stress concurrency")
	flagPat  = flag.String("pattern", "all", "stress pattern to run (read-stable, write-readback, read-flood, all)")
	flagWide = flag.Bool("all", false, "dump: print all 32 registers instead of the standard set")
)

func main() {
	serialPort := flag.String("serial", "", "serial device of a bridge running the firmware")
	baud := flag.Int("baud", 115200, "serial baud rate")
	mdc := flag.String("mdc", "", "host GPIO pin name for MDC, used when -serial is not set")
	mdio := flag.String("mdio", "", "host GPIO pin name for MDIO, used when -serial is not set")
	proto := flag.String("proto", "mdio", "protocol of register accesses (mdio, smi)")
	noPull := flag.Bool("nopull", false, "do not enable internal pull-ups on released GPIO lines")
	verbose := flag.Bool("v", false, "log every register access")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command> [args]\n\nAccess MDIO PHY and SMI switch registers.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-7s %s\n", c.name, c.args)
		}
		fmt.Fprintf(os.Stderr, "\nNumbers are decimal or 0x-prefixed hexadecimal.\n")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
	args, err := parseArgs(flag.Args()[1:], cmd.nargs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, err)
		os.Exit(1)
	}

	var acc regAccess
	if *serialPort != "" {
		acc, err = openSerial(*serialPort, *baud, *proto)
	} else {
		acc, err = openGPIO(*mdc, *mdio, *proto, !*noPull, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "open bridge: %v\n", err)
		os.Exit(1)
	}
	err = cmd.fn(acc, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v (code %d)\n", cmd.name, err, mdiobridge.ErrorCode(err))
		os.Exit(1)
	}
}

func openSerial(name string, baud int, protoName string) (regAccess, error) {
	proto, err := mdiobridge.ParseProtocol(protoName)
	if err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	client := lineproto.NewClient(port)
	product, err := client.Identify()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	err = client.SetProtocol(proto)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("select %s: %w", proto, err)
	}
	fmt.Fprintf(os.Stderr, "connected to %q on %s\n", product, name)
	return client, nil
}

func openGPIO(mdcName, mdioName, protoName string, pullUp bool, logger *slog.Logger) (regAccess, error) {
	if mdcName == "" || mdioName == "" {
		return nil, errors.New("need -serial or both -mdc and -mdio")
	}
	proto, err := mdiobridge.ParseProtocol(protoName)
	if err != nil {
		return nil, err
	}
	_, err = host.Init()
	if err != nil {
		return nil, err
	}
	mdc := gpioreg.ByName(mdcName)
	if mdc == nil {
		return nil, fmt.Errorf("no GPIO pin %q", mdcName)
	}
	mdio := gpioreg.ByName(mdioName)
	if mdio == nil {
		return nil, fmt.Errorf("no GPIO pin %q", mdioName)
	}
	pull := gpio.PullUp
	if !pullUp {
		pull = gpio.Float
	}
	lines := new(mdiobridge.PeriphLines)
	err = lines.Configure(mdiobridge.PeriphConfig{Clock: mdc, Data: mdio, Pull: pull})
	if err != nil {
		return nil, err
	}
	br := new(mdiobridge.Bridge)
	err = br.Configure(lines, mdiobridge.Config{Protocol: proto, Logger: logger})
	if err != nil {
		return nil, err
	}
	return br, nil
}

func parseArgs(args []string, want int) ([]uint16, error) {
	if len(args) != want {
		return nil, fmt.Errorf("want %d arguments, got %d", want, len(args))
	}
	nums := make([]uint16, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 16)
		if err != nil {
			return nil, err
		}
		nums[i] = uint16(v)
	}
	return nums, nil
}

func byteArgs(args []uint16) (dev, reg uint8, err error) {
	if args[0] > 0xff || args[1] > 0xff {
		return 0, 0, mdiobridge.ErrInvalidAddress
	}
	return uint8(args[0]), uint8(args[1]), nil
}

func cmdRead(acc regAccess, args []uint16) error {
	dev, reg, err := byteArgs(args)
	if err != nil {
		return err
	}
	v, err := acc.Pull(dev, reg)
	if err != nil {
		return err
	}
	fmt.Printf("%#04x\n", v)
	return nil
}

func cmdWrite(acc regAccess, args []uint16) error {
	dev, reg, err := byteArgs(args)
	if err != nil {
		return err
	}
	return acc.Push(dev, reg, args[2])
}

// busOf returns a clause 22 bus over acc, using the bridge's own PHY bus when local.
func busOf(acc regAccess) phy.MDIOBus {
	if br, ok := acc.(*mdiobridge.Bridge); ok {
		return br.PHYBus()
	}
	return accessBus{acc}
}

// accessBus adapts a regAccess speaking MDIO to phy.MDIOBus.
type accessBus struct {
	acc regAccess
}

func (b accessBus) Read(phyAddr, devAddr uint8, regAddr uint16) (uint16, error) {
	if devAddr != 0 || regAddr > 31 {
		return 0xffff, mdiobridge.ErrUnsupported
	}
	return b.acc.Pull(phyAddr, uint8(regAddr))
}

func (b accessBus) Write(phyAddr, devAddr uint8, regAddr, value uint16) error {
	if devAddr != 0 || regAddr > 31 {
		return mdiobridge.ErrUnsupported
	}
	return b.acc.Push(phyAddr, uint8(regAddr), value)
}

func cmdScan(acc regAccess, _ []uint16) error {
	var addrs [32]uint8
	n, err := phy.FindClause22PHYs(busOf(acc), addrs[:])
	if err != nil {
		return err
	}
	for _, addr := range addrs[:n] {
		id, err := identify(acc, addr)
		if err != nil {
			return err
		}
		fmt.Printf("phy %2d: oui=%#06x model=%#02x rev=%d\n", addr, id.OUI, id.Model, id.Revision)
	}
	return nil
}

func identify(acc regAccess, addr uint8) (mdiobridge.PHYID, error) {
	if br, ok := acc.(*mdiobridge.Bridge); ok {
		return br.IdentifyPHY(addr)
	}
	var dev phy.Device
	err := dev.ConfigureAs22(busOf(acc), addr)
	if err != nil {
		return mdiobridge.PHYID{}, err
	}
	id1, err := dev.ID1()
	if err != nil {
		return mdiobridge.PHYID{}, err
	}
	id2, err := dev.ID2()
	if err != nil {
		return mdiobridge.PHYID{}, err
	}
	return mdiobridge.DecodePHYID(id1, id2), nil
}

var stdRegs = []struct {
	addr uint16
	name string
}{
	{phy.AddrBMCR, "BMCR"},
	{phy.AddrBMSR, "BMSR"},
	{2, "PHYID1"},
	{3, "PHYID2"},
	{phy.AddrANAR, "ANAR"},
	{phy.AddrANLPAR, "ANLPAR"},
	{phy.AddrANER, "ANER"},
}

func cmdDump(acc regAccess, args []uint16) error {
	if args[0] > 31 {
		return mdiobridge.ErrInvalidAddress
	}
	addr := uint8(args[0])
	var dev phy.Device
	err := dev.ConfigureAs22(busOf(acc), addr)
	if err != nil {
		return err
	}
	if *flagWide {
		for reg := uint8(0); reg < 32; reg++ {
			v, err := acc.Pull(addr, reg)
			if err != nil {
				return err
			}
			fmt.Printf("reg %2d: %#04x\n", reg, v)
		}
	} else {
		for _, r := range stdRegs {
			v, err := acc.Pull(addr, uint8(r.addr))
			if err != nil {
				return err
			}
			fmt.Printf("%-7s %#04x\n", r.name, v)
		}
	}
	up, err := dev.IsLinkUp()
	if err != nil {
		return err
	}
	fmt.Printf("link up: %v\n", up)
	if !up {
		return nil
	}
	mode, err := dev.NegotiatedLink()
	if err != nil {
		fmt.Printf("negotiated: %v\n", err)
		return nil
	}
	fmt.Printf("negotiated: %dMbps full-duplex=%v\n", mode.SpeedMbps(), mode.IsFullDuplex())
	return nil
}

type stats struct {
	attempted  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	mismatches atomic.Int64
	ackTimeout atomic.Int64
}

func (s *stats) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d failed=%d mismatches=%d ack-timeouts=%d",
		s.attempted.Load(), s.succeeded.Load(), s.failed.Load(), s.mismatches.Load(), s.ackTimeout.Load())
}

func (s *stats) fail(err error) {
	s.failed.Add(1)
	if errors.Is(err, mdiobridge.ErrAckTimeout) {
		s.ackTimeout.Add(1)
	}
}

type pattern struct {
	name string
	fn   func(acc regAccess, dev, reg uint8, s *stats, n, concurrency int)
}

var patterns = []pattern{
	{"read-stable", readStable},
	{"write-readback", writeReadback},
	{"read-flood", readFlood},
}

// cmdStress hammers a single register. write-readback overwrites it: pick a
// scratch register or one whose content may be lost.
func cmdStress(acc regAccess, args []uint16) error {
	dev, reg, err := byteArgs(args)
	if err != nil {
		return err
	}
	var toRun []pattern
	if *flagPat == "all" {
		toRun = patterns
	} else {
		for _, p := range patterns {
			if p.name == *flagPat {
				toRun = append(toRun, p)
			}
		}
		if len(toRun) == 0 {
			return fmt.Errorf("unknown pattern: %s", *flagPat)
		}
	}
	start := time.Now()
	for _, p := range toRun {
		fmt.Printf("--- %s (n=%d c=%d) ---\n", p.name, *flagN, *flagC)
		var s stats
		p.fn(acc, dev, reg, &s, *flagN, *flagC)
		fmt.Printf("    %s\n\n", &s)
	}
	fmt.Printf("done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// readStable reads the register repeatedly expecting the first value every time.
// Catches marginal timing where bits flip between reads.
func readStable(acc regAccess, dev, reg uint8, s *stats, n, _ int) {
	want, err := acc.Pull(dev, reg)
	if err != nil {
		s.attempted.Add(1)
		s.fail(err)
		return
	}
	for range n {
		s.attempted.Add(1)
		v, err := acc.Pull(dev, reg)
		switch {
		case err != nil:
			s.fail(err)
		case v != want:
			s.mismatches.Add(1)
		default:
			s.succeeded.Add(1)
		}
	}
}

// writeReadback writes random values and reads them back, restoring the
// original content when done.
func writeReadback(acc regAccess, dev, reg uint8, s *stats, n, _ int) {
	orig, err := acc.Pull(dev, reg)
	if err != nil {
		s.attempted.Add(1)
		s.fail(err)
		return
	}
	defer acc.Push(dev, reg, orig)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for range n {
		s.attempted.Add(1)
		v := uint16(rng.Uint32())
		err := acc.Push(dev, reg, v)
		if err != nil {
			s.fail(err)
			continue
		}
		got, err := acc.Pull(dev, reg)
		switch {
		case err != nil:
			s.fail(err)
		case got != v:
			s.mismatches.Add(1)
		default:
			s.succeeded.Add(1)
		}
	}
}

// readFlood issues reads from many goroutines at once. The bridge must
// serialize them without tearing frames.
func readFlood(acc regAccess, dev, reg uint8, s *stats, n, concurrency int) {
	want, err := acc.Pull(dev, reg)
	if err != nil {
		s.attempted.Add(1)
		s.fail(err)
		return
	}
	run(concurrency, n, func() {
		s.attempted.Add(1)
		v, err := acc.Pull(dev, reg)
		switch {
		case err != nil:
			s.fail(err)
		case v != want:
			s.mismatches.Add(1)
		default:
			s.succeeded.Add(1)
		}
	})
}

// run executes fn n times across the given number of goroutines.
func run(concurrency, n int, fn func()) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	for range n {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn()
		}()
	}
	wg.Wait()
}
