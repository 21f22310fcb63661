// Package logging wires the engine's debug log and results log onto zerolog.
package logging

import (
	"secwaf/waf"

	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Debug log levels from the SecDebugLogLevel directive map onto zerolog levels.
var debugLevelMap = map[int]zerolog.Level{
	0: zerolog.Disabled,
	1: zerolog.ErrorLevel,
	2: zerolog.WarnLevel,
	3: zerolog.WarnLevel,
	4: zerolog.InfoLevel,
	5: zerolog.InfoLevel,
	6: zerolog.InfoLevel,
	7: zerolog.DebugLevel,
	8: zerolog.DebugLevel,
	9: zerolog.TraceLevel,
}

// NewDebugLogger creates the engine's debug logger per the SecDebugLog and SecDebugLogLevel
// directives. An empty path logs to stderr.
func NewDebugLogger(config waf.EngineConfig) (zerolog.Logger, error) {
	level, ok := debugLevelMap[config.DebugLogLevel]
	if !ok {
		level = zerolog.InfoLevel
	}

	out := os.Stderr
	if config.DebugLogPath != "" {
		f, err := os.OpenFile(config.DebugLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("could not open debug log %v: %v", config.DebugLogPath, err)
		}
		out = f
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
