// Package logging builds the service's hclog loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New creates a logger with the service's standard settings. Unknown
// levels fall back to info.
func New(name, level, format string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      lvl,
		JSONFormat: strings.EqualFold(format, FormatJSON),
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05.000Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Writer adapts a logger for components that only accept an io.Writer,
// such as echo's request logger.
func Writer(logger hclog.Logger) io.Writer {
	return logger.StandardWriter(&hclog.StandardLoggerOptions{
		InferLevels: true,
	})
}
