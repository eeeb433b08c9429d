package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ZerologConfig configures the zerolog-backed Observer.
type ZerologConfig struct {
	Level  Level  // minimum level to forward to the underlying logger
	Pretty bool   // console-writer output instead of JSON
	Service string // "service" field stamped on every entry
}

// ZerologObserver forwards Entry values to a structured zerolog.Logger,
// the same Loki-friendly shape used elsewhere in this codebase.
type ZerologObserver struct {
	logger zerolog.Logger
	min    Level
}

// NewZerologObserver builds an Observer writing JSON (or pretty console)
// output to stdout, with a timestamp, caller, and service field on every
// record.
func NewZerologObserver(cfg ZerologConfig) *ZerologObserver {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	service := cfg.Service
	if service == "" {
		service = "blip"
	}
	logger := zerolog.New(output).With().Timestamp().Caller().Str("service", service).Logger()
	return &ZerologObserver{logger: logger, min: cfg.Level}
}

// Observe implements Observer.
func (z *ZerologObserver) Observe(e Entry) {
	if e.Level < z.min {
		return
	}
	var ev *zerolog.Event
	switch e.Level {
	case Debug, Verbose:
		ev = z.logger.Debug()
	case Info:
		ev = z.logger.Info()
	case Warning:
		ev = z.logger.Warn()
	case Error:
		ev = z.logger.Error()
	default:
		return
	}
	ev.Str("domain", e.Domain)
	if e.ObjectPath != "" {
		ev.Str("object", e.ObjectPath)
	}
	ev.Msg(e.Message)
}
