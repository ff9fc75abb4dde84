package log

import (
	stdlog "log"
	"strings"
)

// stdLogWriter adapts a Logger to an io.Writer for the standard library
// logger. Each write becomes one Info entry.
type stdLogWriter struct {
	logger Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Info(msg)
	}
	return len(p), nil
}

// RedirectStdLog routes the standard library's default logger (used by some
// dependencies, including the storage engine) through logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{logger: logger.WithComponent("stdlog")})
}

// ToStdLogger returns a *log.Logger that forwards to logger, for libraries
// that require the standard interface.
func ToStdLogger(logger Logger) *stdlog.Logger {
	return stdlog.New(stdLogWriter{logger: logger}, "", 0)
}
