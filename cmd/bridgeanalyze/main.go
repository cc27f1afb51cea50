// bridgeanalyze decodes MDIO and Realtek SMI transactions from Saleae binary
// digital exports of the clock and data lines.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/soypat/mdiobridge/sniff"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "bridgeanalyze - Decode MDIO/SMI transactions from Saleae binary digital data files.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	fclk := flag.String("f-clk", "digital_0.bin", "Input filename: MDC/SCK clock data.")
	fdata := flag.String("f-data", "digital_1.bin", "Input filename: MDIO/SDA data.")
	proto := flag.String("proto", "all", "Protocols to decode: mdio, smi or all.")
	output := flag.String("o", "", "Output filename. Defaults to stdout.")
	invalid := flag.Bool("invalid", false, "Also print SMI frames that are not complete register accesses.")
	flag.Parse()

	start := time.Now()
	clk, err := opendigital(*fclk)
	if err != nil {
		log.Fatal(err)
	}
	data, err := opendigital(*fdata)
	if err != nil {
		log.Fatal(err)
	}
	var w io.Writer = os.Stdout
	if *output != "" {
		fp, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer fp.Close()
		w = fp
	}
	samples := merge(clk, data)
	if err := run(w, samples, *proto, *invalid); err != nil {
		log.Fatal(err)
	}
	log.Println("decoded", len(samples), "samples in", time.Since(start))
}

func run(w io.Writer, samples []sniff.Sample, proto string, invalid bool) error {
	var mdio, smi bool
	switch proto {
	case "mdio":
		mdio = true
	case "smi":
		smi = true
	case "all":
		mdio, smi = true, true
	default:
		return fmt.Errorf("unknown protocol %q", proto)
	}
	var lines []timedLine
	if mdio {
		for _, f := range sniff.DecodeMDIO(samples) {
			lines = append(lines, timedLine{t: f.Start, s: formatMDIO(f)})
		}
	}
	if smi {
		for _, f := range sniff.DecodeSMI(samples) {
			if !f.Valid() && !invalid {
				continue
			}
			lines = append(lines, timedLine{t: f.Start, s: formatSMI(f)})
		}
	}
	sortLines(lines)
	for _, l := range lines {
		_, err := fmt.Fprintf(w, "t=%-12s %s\n", l.t, l.s)
		if err != nil {
			return err
		}
	}
	return nil
}

type timedLine struct {
	t time.Duration
	s string
}

func sortLines(lines []timedLine) {
	// Insertion sort, both decoders already produce ordered output.
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && lines[j].t < lines[j-1].t; j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
}

func formatMDIO(f sniff.MDIOFrame) string {
	s := fmt.Sprintf("MDIO %-5s phy=%2d reg=%2d val=%#04x", f.Op.String(), f.PHY, f.Reg, f.Data)
	if !f.TurnaroundOK() {
		s += " (no turnaround)"
	}
	if f.Preamble != 32 {
		s += fmt.Sprintf(" preamble=%d", f.Preamble)
	}
	return s
}

func formatSMI(f sniff.SMIFrame) string {
	if !f.Valid() {
		s := fmt.Sprintf("SMI ?     bytes=%d extra=%d", len(f.Bytes), f.Extra)
		if len(f.Bytes) > 0 {
			s += fmt.Sprintf(" first=%#02x", f.Bytes[0].Value)
		}
		return s
	}
	op := "read"
	if f.IsWrite() {
		op = "write"
	}
	retries := 0
	nacked := false
	for i, b := range f.Bytes {
		if len(b.Acks) > 1 {
			retries += len(b.Acks) - 1
		}
		// Last byte of a read is acknowledged by the master with 1.
		if !b.Acked() && !(f.IsRead() && i == len(f.Bytes)-1) {
			nacked = true
		}
	}
	s := fmt.Sprintf("SMI  %-5s addr=%#04x val=%#04x", op, f.Addr(), f.Value())
	if retries > 0 {
		s += fmt.Sprintf(" retries=%d", retries)
	}
	if nacked {
		s += " (nack)"
	}
	return s
}
