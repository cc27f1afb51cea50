package mdiobridge

import (
	"context"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 2

func (br *Bridge) logerr(msg string, attrs ...slog.Attr) {
	br.logattrs(slog.LevelError, msg, attrs...)
}

func (br *Bridge) info(msg string, attrs ...slog.Attr) {
	br.logattrs(slog.LevelInfo, msg, attrs...)
}

func (br *Bridge) debug(msg string, attrs ...slog.Attr) {
	br.logattrs(slog.LevelDebug, msg, attrs...)
}

func (br *Bridge) trace(msg string, attrs ...slog.Attr) {
	if !br.traceEnabled {
		return
	}
	br.logattrs(levelTrace, msg, attrs...)
}

func (br *Bridge) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if br.logger == nil {
		return
	}
	br.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func reqAttrs(req *Request, smiAddr uint16) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("proto", req.Protocol.String()),
		slog.Uint64("dev", uint64(req.Device)),
		slog.Uint64("reg", uint64(req.Register)),
	}
	if req.Protocol == ProtocolSMI {
		attrs = append(attrs, slog.String("addr", hex16(smiAddr)))
	}
	return attrs
}

// hex16 formats v as 0x-prefixed lowercase hex without allocating through fmt.
func hex16(v uint16) string {
	const hextable = "0123456789abcdef"
	var buf [6]byte
	buf[0] = '0'
	buf[1] = 'x'
	for i := 0; i < 4; i++ {
		buf[5-i] = hextable[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}
