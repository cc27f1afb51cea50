package main

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntryKind classifies each line in the log.
type EntryKind uint8

const (
	KindAccess    EntryKind = iota // level=INFO msg="MDIO read" proto=MDIO dev=N reg=N val=0x....
	KindAccessErr                  // level=ERROR msg="SMI read failed" ... code=N err="..."
	KindSlog                       // any other slog line (bridge:configured, transport:attached...)
	KindApp                        // plain text printed by the firmware
	KindUnknown                    // serial header, blank, etc.
)

func (k EntryKind) String() string {
	switch k {
	case KindAccess:
		return "ACCESS"
	case KindAccessErr:
		return "ACCESS-ERR"
	case KindSlog:
		return "SLOG"
	case KindApp:
		return "APP"
	default:
		return "UNKNOWN"
	}
}

// Entry is one parsed line from the log. Preserves all original data.
type Entry struct {
	Line int       // 1-based line number in the file
	Kind EntryKind // what type of line this is
	Raw  string    // original line text

	// Slog fields, set for KindAccess, KindAccessErr and KindSlog:
	Time  time.Time // zero if the line carried no parseable time
	Level string    // "DEBUG-2", "DEBUG", "INFO", "ERROR"
	Msg   string    // message without quotes
	Attrs map[string]string

	// KindAccess / KindAccessErr fields:
	Proto string // "MDIO" or "SMI"
	Dir   string // "read" or "write"
	Dev   int
	Reg   int
	Addr  int   // SMI address, -1 for MDIO
	Val   int   // value read or written, -1 on errors
	Code  uint8 // bridge error code, 0 on success
	Err   string
}

// Target identifies a register on the bus.
type Target struct {
	Proto    string
	Dev, Reg int
}

func (t Target) String() string {
	return t.Proto + " dev=" + strconv.Itoa(t.Dev) + " reg=" + strconv.Itoa(t.Reg)
}

// Target returns the register the entry accessed.
func (e Entry) Target() Target {
	return Target{Proto: e.Proto, Dev: e.Dev, Reg: e.Reg}
}

// ParseResult holds the complete parsed log.
type ParseResult struct {
	Entries  []Entry // all lines in order
	Accesses []int   // indices into Entries of KindAccess and KindAccessErr lines
}

var (
	reSlog   = regexp.MustCompile(`^(?:time=(\S+)\s+)?level=(\S+)\s+msg=(.*)`)
	reAccess = regexp.MustCompile(`^(MDIO|SMI) (read|write)( failed)?$`)
)

// Parse processes raw log lines into a ParseResult.
func Parse(lines []string) ParseResult {
	var pr ParseResult
	pr.Entries = make([]Entry, 0, len(lines))
	for i, line := range lines {
		e := parseSingleLine(line, i+1)
		if e.Kind == KindAccess || e.Kind == KindAccessErr {
			pr.Accesses = append(pr.Accesses, len(pr.Entries))
		}
		pr.Entries = append(pr.Entries, e)
	}
	return pr
}

// parseSingleLine classifies and parses a single line.
func parseSingleLine(line string, lineNum int) Entry {
	e := Entry{Line: lineNum, Raw: line, Addr: -1, Val: -1}
	// Serial monitors may prefix lines with garbage after a reset.
	if idx := strings.Index(line, "level="); idx > 0 {
		if tidx := strings.LastIndex(line[:idx], "time="); tidx >= 0 {
			line = line[tidx:]
		} else {
			line = line[idx:]
		}
	}
	m := reSlog.FindStringSubmatch(line)
	if m == nil {
		if strings.TrimSpace(line) == "" {
			e.Kind = KindUnknown
		} else {
			e.Kind = KindApp
		}
		return e
	}
	e.Kind = KindSlog
	if m[1] != "" {
		e.Time, _ = time.Parse(time.RFC3339Nano, m[1])
	}
	e.Level = m[2]
	var rest string
	e.Msg, rest = cutValue(m[3])
	e.Attrs = parseAttrs(rest)

	am := reAccess.FindStringSubmatch(e.Msg)
	if am == nil {
		return e
	}
	e.Proto = am[1]
	e.Dir = am[2]
	e.Dev = attrInt(e.Attrs, "dev", -1)
	e.Reg = attrInt(e.Attrs, "reg", -1)
	e.Addr = attrInt(e.Attrs, "addr", -1)
	if am[3] != "" {
		e.Kind = KindAccessErr
		e.Code = uint8(attrInt(e.Attrs, "code", 0xff))
		e.Err = e.Attrs["err"]
		return e
	}
	e.Kind = KindAccess
	e.Val = attrInt(e.Attrs, "val", -1)
	return e
}

// parseAttrs parses space separated key=value pairs. Values may be quoted.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return attrs
		}
		key, after, ok := strings.Cut(s, "=")
		if !ok || key == "" || strings.Contains(key, " ") {
			return attrs
		}
		var val string
		val, s = cutValue(after)
		attrs[key] = val
	}
}

// cutValue splits a possibly quoted value from the rest of the line.
func cutValue(s string) (val, rest string) {
	if strings.HasPrefix(s, `"`) {
		// Find closing quote honoring escapes.
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '"':
				uq, err := strconv.Unquote(s[:i+1])
				if err != nil {
					uq = s[1:i]
				}
				return uq, s[i+1:]
			}
		}
		return s[1:], ""
	}
	val, rest, _ = strings.Cut(s, " ")
	return val, rest
}

func attrInt(attrs map[string]string, key string, def int) int {
	s, ok := attrs[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return def
	}
	return int(v)
}

// Summarize reduces an entry to a short string useful for grouping.
func Summarize(e Entry) string {
	switch e.Kind {
	case KindAccess:
		return e.Target().String() + " " + e.Dir
	case KindAccessErr:
		return e.Target().String() + " " + e.Dir + " code=" + strconv.Itoa(int(e.Code))
	case KindSlog:
		return e.Level + " " + e.Msg
	case KindApp:
		r := e.Raw
		if len(r) > 60 {
			r = r[:60] + "..."
		}
		return r
	default:
		return "(unknown)"
	}
}
