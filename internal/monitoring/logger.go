package monitoring

import "log"

// Logf is the package-level diagnostic logger for the sampling pipeline. It
// defaults to log.Printf but may be replaced by SetLogger. The detector's
// per-sample trace is wired to it only when debug output is requested, so it
// stays silent in normal operation.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
