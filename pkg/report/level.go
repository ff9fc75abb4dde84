package report

import "strings"

// Level is a log severity understood by the reporting service. The numeric
// codes match the service's level scale.
type Level int

const (
	LevelTrace   Level = 5000
	LevelDebug   Level = 10000
	LevelInfo    Level = 20000
	LevelWarn    Level = 30000
	LevelError   Level = 40000
	LevelFatal   Level = 50000
	LevelUnknown Level = 60000
)

// String returns the service-side name of the level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level, defaulting to LevelInfo for
// unrecognized input.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO", "":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelUnknown
	}
}
