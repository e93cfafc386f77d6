// Package observability wires zerolog-based structured logging, context-bound
// trace loggers, and payload redaction shared by every mnemo component.
package observability

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// baseWriter is the destination InitLogger picked (file or stdout), kept so
// AttachOTelLog can fan logs out to it alongside the OTLP log bridge instead
// of replacing it outright.
var baseWriter io.Writer = os.Stdout

// InitLogger initializes zerolog with sane defaults. If logPath is non-empty,
// logs are written only to that file (append mode) so a log file never
// interferes with a terminal-hosted process reading the same stdout. If
// opening the file fails, logging falls back to stdout and a warning is
// printed to stderr.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", logPath, err)
		}
	}
	baseWriter = w
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// AttachOTelLog fans every subsequent log line out to the OTLP log pipeline
// in addition to InitLogger's file/stdout destination, bridging zerolog's
// existing JSON output into OpenTelemetry log records.
func AttachOTelLog(serviceName string) {
	mw := zerolog.MultiLevelWriter(baseWriter, NewOTelWriter(serviceName))
	log.Logger = log.Logger.Output(mw)
}
