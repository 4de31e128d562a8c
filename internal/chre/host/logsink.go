package host

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// WireLogLevel is the packed LogMessage severity byte (spec §6).
type WireLogLevel uint8

const (
	WireLogError WireLogLevel = 1
	WireLogWarn  WireLogLevel = 2
	WireLogInfo  WireLogLevel = 3
	WireLogDebug WireLogLevel = 4
)

// WireLevelFor maps a zap level onto the wire severity: Error and every
// level above it map to err, Warn to warn, Info to info, and Debug to dbg.
func WireLevelFor(level zapcore.Level) WireLogLevel {
	switch {
	case level >= zapcore.ErrorLevel:
		return WireLogError
	case level >= zapcore.WarnLevel:
		return WireLogWarn
	case level >= zapcore.InfoLevel:
		return WireLogInfo
	default:
		return WireLogDebug
	}
}

// EncodeLogMessage packs a single LogMessage record: {u8 level, u64 LE
// timestamp_ns, NUL-terminated UTF-8 msg}.
func EncodeLogMessage(level WireLogLevel, timestampNs uint64, msg string) []byte {
	buf := make([]byte, 0, 1+8+len(msg)+1)
	buf = append(buf, byte(level))
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], timestampNs)
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, []byte(msg)...)
	buf = append(buf, 0)
	return buf
}

// DecodeLogMessage unpacks a single LogMessage record.
func DecodeLogMessage(data []byte) (level WireLogLevel, timestampNs uint64, msg string, err error) {
	if len(data) < 9 {
		return 0, 0, "", fmt.Errorf("host: log message too short")
	}
	level = WireLogLevel(data[0])
	timestampNs = binary.LittleEndian.Uint64(data[1:9])
	rest := data[9:]
	for i, b := range rest {
		if b == 0 {
			return level, timestampNs, string(rest[:i]), nil
		}
	}
	return 0, 0, "", fmt.Errorf("host: log message missing NUL terminator")
}
