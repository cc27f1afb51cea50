package main

import (
	"math"
	"os"
	"time"

	"github.com/soypat/mdiobridge/sniff"
	"github.com/soypat/saleae"
)

// channel is a single digital line as exported by a logic analyzer:
// an initial level followed by toggle times in seconds.
type channel struct {
	initial     bool
	begin       float64
	transitions []float64
}

func opendigital(filename string) (channel, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return channel{}, err
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return channel{}, err
	}
	return channel{
		initial:     df.Header.InitialState != 0,
		begin:       df.Header.Begin,
		transitions: df.Data,
	}, nil
}

// merge interleaves the transitions of the clock and data channels into samples
// holding the state of both lines after each change. Times are relative to the
// earliest channel start. Simultaneous toggles produce a single sample.
func merge(clk, data channel) []sniff.Sample {
	t0 := min(clk.begin, data.begin)
	c, d := clk.initial, data.initial
	samples := make([]sniff.Sample, 0, 1+len(clk.transitions)+len(data.transitions))
	samples = append(samples, sniff.Sample{Clock: c, Data: d})
	i, j := 0, 0
	for i < len(clk.transitions) || j < len(data.transitions) {
		tc, td := math.Inf(1), math.Inf(1)
		if i < len(clk.transitions) {
			tc = clk.transitions[i]
		}
		if j < len(data.transitions) {
			td = data.transitions[j]
		}
		t := min(tc, td)
		if tc == t {
			c = !c
			i++
		}
		if td == t {
			d = !d
			j++
		}
		samples = append(samples, sniff.Sample{
			T:     seconds(t - t0),
			Clock: c,
			Data:  d,
		})
	}
	return samples
}

// split is the inverse of merge.
func split(samples []sniff.Sample) (clk, data channel) {
	if len(samples) == 0 {
		return clk, data
	}
	clk.initial, data.initial = samples[0].Clock, samples[0].Data
	c, d := clk.initial, data.initial
	for _, s := range samples[1:] {
		t := s.T.Seconds()
		if s.Clock != c {
			clk.transitions = append(clk.transitions, t)
			c = s.Clock
		}
		if s.Data != d {
			data.transitions = append(data.transitions, t)
			d = s.Data
		}
	}
	return clk, data
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
