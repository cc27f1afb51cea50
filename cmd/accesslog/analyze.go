package main

import (
	"sort"
	"time"
)

// TargetStat aggregates accesses to a single register.
type TargetStat struct {
	Target   Target
	Reads    int
	Writes   int
	Errors   int
	Values   int // distinct values seen in successful reads
	Changes  int // times a read returned a different value than the previous read
	LastVal  int // last value read or written, -1 if none
	lastRead int
}

// CodeStat counts failures sharing an error code.
type CodeStat struct {
	Code  uint8
	Count int
	// Example holds the error text of the first failure with this code.
	Example string
}

// TimeBucket aggregates accesses in a time window.
type TimeBucket struct {
	Start  time.Duration // offset from the first timed access
	End    time.Duration
	Count  int
	Errors int
}

// Summary returns overall statistics from the parse result.
func Summary(pr ParseResult) (count, errors int, dur time.Duration) {
	var first, last time.Time
	for _, idx := range pr.Accesses {
		e := pr.Entries[idx]
		count++
		if e.Kind == KindAccessErr {
			errors++
		}
		if e.Time.IsZero() {
			continue
		}
		if first.IsZero() {
			first = e.Time
		}
		last = e.Time
	}
	if !first.IsZero() && last.After(first) {
		dur = last.Sub(first)
	}
	return count, errors, dur
}

// GroupByTarget aggregates accesses per register.
// Returns slice sorted by total accesses descending, ties by target order of first appearance.
func GroupByTarget(pr ParseResult) []TargetStat {
	index := make(map[Target]int)
	distinct := make(map[Target]map[int]struct{})
	var result []TargetStat
	for _, idx := range pr.Accesses {
		e := pr.Entries[idx]
		t := e.Target()
		gi, ok := index[t]
		if !ok {
			gi = len(result)
			index[t] = gi
			result = append(result, TargetStat{Target: t, LastVal: -1, lastRead: -1})
			distinct[t] = make(map[int]struct{})
		}
		g := &result[gi]
		if e.Dir == "write" {
			g.Writes++
		} else {
			g.Reads++
		}
		if e.Kind == KindAccessErr {
			g.Errors++
			continue
		}
		g.LastVal = e.Val
		if e.Dir == "read" {
			if g.lastRead >= 0 && g.lastRead != e.Val {
				g.Changes++
			}
			g.lastRead = e.Val
			distinct[t][e.Val] = struct{}{}
		}
	}
	for i := range result {
		result[i].Values = len(distinct[result[i].Target])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Reads+result[i].Writes > result[j].Reads+result[j].Writes
	})
	return result
}

// CodeHistogram counts failures by error code, most frequent first.
func CodeHistogram(pr ParseResult) []CodeStat {
	var result []CodeStat
	for _, idx := range pr.Accesses {
		e := pr.Entries[idx]
		if e.Kind != KindAccessErr {
			continue
		}
		found := false
		for i := range result {
			if result[i].Code == e.Code {
				result[i].Count++
				found = true
				break
			}
		}
		if !found {
			result = append(result, CodeStat{Code: e.Code, Count: 1, Example: e.Err})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})
	return result
}

// TimeSeries buckets timed accesses into windows of width bucket.
func TimeSeries(pr ParseResult, bucket time.Duration) []TimeBucket {
	if bucket <= 0 {
		return nil
	}
	var first time.Time
	var buckets []TimeBucket
	for _, idx := range pr.Accesses {
		e := pr.Entries[idx]
		if e.Time.IsZero() {
			continue
		}
		if first.IsZero() {
			first = e.Time
		}
		off := e.Time.Sub(first)
		if off < 0 {
			continue // Clock went backwards, likely a firmware reset.
		}
		bi := int(off / bucket)
		for len(buckets) <= bi {
			start := time.Duration(len(buckets)) * bucket
			buckets = append(buckets, TimeBucket{Start: start, End: start + bucket})
		}
		buckets[bi].Count++
		if e.Kind == KindAccessErr {
			buckets[bi].Errors++
		}
	}
	return buckets
}
