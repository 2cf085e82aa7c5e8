// Package logger builds the zerolog loggers used across pasetool.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// EnvVar selects the output format: "dev" (or unset) for console, anything else for JSON.
const EnvVar = "PASETOOL_ENV"

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s any, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New returns a stderr logger at level, formatted according to PASETOOL_ENV.
// An empty or unknown level means info.
func New(level string) zerolog.Logger {
	env := os.Getenv(EnvVar)
	var log zerolog.Logger
	if env == "development" || env == "dev" || env == "" {
		log = NewDevelopment(os.Stderr)
	} else {
		log = NewProduction(os.Stderr)
	}
	return log.Level(ParseLevel(level))
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	if level == "" {
		return zerolog.InfoLevel
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// NewDevelopment writes colored console lines to w.
func NewDevelopment(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		FormatLevel: func(i any) string {
			ll, ok := i.(string)
			if !ok {
				return strings.ToUpper(fmt.Sprintf("%-3s", i))[0:3]
			}
			switch ll {
			case "trace":
				return colorize("TRC", colorMagenta)
			case "debug":
				return colorize("DBG", colorYellow)
			case "info":
				return colorize("INF", colorGreen)
			case "warn", "error", "fatal", "panic":
				return colorize(strings.ToUpper(ll)[0:3], colorRed)
			default:
				return colorize(strings.ToUpper(fmt.Sprintf("%-3s", ll))[0:3], colorBold)
			}
		},
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction writes JSON lines with UNIX timestamps to w.
func NewProduction(w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(w).With().Timestamp().Logger()
}
