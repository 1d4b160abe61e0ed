// Package util provides logging, statistics and small helpers shared by the
// call and socket components.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by the pterm default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// ReportNonFatal is the default sink for errors that are logged and absorbed
// instead of being returned to the caller.
func ReportNonFatal(err error) {
	if err != nil {
		LogWarning("%v", err)
	}
}

// Scope prefixes every line with a component tag such as "[socket]".
// Trace output is emitted only when Verbose is set; it goes out at info
// level so a component can be traced without turning on global debug.
type Scope struct {
	Tag     string
	Verbose bool
}

// NewScope returns a Scope tagged with name and an optional id.
func NewScope(name, id string, verbose bool) Scope {
	tag := "[" + name + "]"
	if id != "" {
		tag = "[" + name + " " + id + "]"
	}
	return Scope{Tag: tag, Verbose: verbose}
}

// Tracef logs a lifecycle trace when the scope is verbose.
func (s Scope) Tracef(format string, args ...interface{}) {
	if s.Verbose {
		LogInfo(s.Tag+" "+format, args...)
	} else {
		LogDebug(s.Tag+" "+format, args...)
	}
}

func (s Scope) Warnf(format string, args ...interface{}) {
	LogWarning(s.Tag+" "+format, args...)
}

func (s Scope) Errorf(format string, args ...interface{}) {
	LogError(s.Tag+" "+format, args...)
}
