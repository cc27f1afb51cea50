// accesslog summarizes the register access log a bridge prints on its serial
// console: which registers were touched, which failed and how often values changed.
//
// Usage:
//
//	accesslog capture.log
//	picocom /dev/ttyACM0 | accesslog
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/soypat/mdiobridge"
)

func main() {
	var input *os.File
	if len(os.Args) > 1 {
		f, err := os.Open(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "open: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	} else {
		input = os.Stdin
	}

	lines := readLines(input)
	pr := Parse(lines)

	count, errs, dur := Summary(pr)
	printSummary(count, errs, dur)

	printTargets(GroupByTarget(pr))
	printCodes(CodeHistogram(pr))
	printTimeSeries(TimeSeries(pr, 5*time.Second))
}

func readLines(f *os.File) []string {
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func printSummary(count, errs int, dur time.Duration) {
	fmt.Println("=== Register Access Analysis ===")
	fmt.Printf("Total: %d accesses, %d failed", count, errs)
	if count > 0 {
		fmt.Printf(" (%.1f%%)", float64(errs)/float64(count)*100)
	}
	fmt.Println()
	if dur > 0 {
		fmt.Printf("Duration: %s   Rate: %.1f/sec\n", dur.Round(time.Millisecond), float64(count)/dur.Seconds())
	}
	fmt.Println()
}

func printTargets(stats []TargetStat) {
	fmt.Println("=== Registers ===")
	fmt.Printf("  %-4s  %-26s  %6s  %6s  %6s  %6s  %7s  %s\n",
		"#", "Target", "Reads", "Writes", "Errors", "Values", "Changes", "Last")
	fmt.Println(strings.Repeat("-", 90))

	limit := min(len(stats), 40)
	for i := 0; i < limit; i++ {
		s := stats[i]
		last := "-"
		if s.LastVal >= 0 {
			last = fmt.Sprintf("%#04x", s.LastVal)
		}
		fmt.Printf("  %-4d  %-26s  %6d  %6d  %6d  %6d  %7d  %s\n",
			i+1, truncate(s.Target.String(), 26), s.Reads, s.Writes, s.Errors, s.Values, s.Changes, last)
	}
	if len(stats) > limit {
		fmt.Printf("  ... and %d more registers\n", len(stats)-limit)
	}
	fmt.Println()
}

func printCodes(codes []CodeStat) {
	if len(codes) == 0 {
		return
	}
	fmt.Println("=== Failures by Code ===")
	fmt.Printf("  %4s  %-16s  %6s  %s\n", "Code", "Meaning", "Count", "Example")
	fmt.Println(strings.Repeat("-", 90))
	for _, c := range codes {
		meaning := "other"
		if err := mdiobridge.CodeError(c.Code); err != nil && c.Code != mdiobridge.CodeOther {
			meaning = err.Error()
		}
		fmt.Printf("  %4d  %-16s  %6d  %s\n", c.Code, truncate(meaning, 16), c.Count, truncate(c.Example, 50))
	}
	fmt.Println()
}

func printTimeSeries(buckets []TimeBucket) {
	if len(buckets) == 0 {
		return
	}

	fmt.Println("=== Access Rate (5-second buckets) ===")

	// Find max for scaling.
	maxCount := 0
	for _, b := range buckets {
		maxCount = max(maxCount, b.Count)
	}
	if maxCount == 0 {
		return
	}

	const barWidth = 50
	for _, b := range buckets {
		if b.Count == 0 {
			continue
		}
		barLen := max(b.Count*barWidth/maxCount, 1)
		fmt.Printf("  %6.0f-%6.0fs  %s %d (%d failed)\n",
			b.Start.Seconds(), b.End.Seconds(),
			strings.Repeat("|", barLen),
			b.Count,
			b.Errors,
		)
	}
	fmt.Println()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
