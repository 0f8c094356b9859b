package monitoring

import "log"

// Logf is the package-level diagnostic logger used by the pipeline and CLI.
// It defaults to log.Printf; SetLogger can redirect or mute it, which keeps
// the core tracking and scoring packages free of logging concerns.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
