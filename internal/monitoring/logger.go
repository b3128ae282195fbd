// Package monitoring holds the process-wide diagnostic loggers used by the
// tracking pipeline.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Warnf reports recoverable problems, such as a frame where the tracker had
// to hold its window. It defaults to log.Printf with a "warning: " prefix.
var Warnf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Printf("warning: "+format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetWarnLogger replaces the warning logger. Passing nil mutes warnings.
func SetWarnLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Warnf = func(string, ...interface{}) {}
		return
	}
	Warnf = f
}
