package logger

import (
	"os"
	"strings"
	"time"

	plog "github.com/phuslu/log"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/config"
)

// Init configures the global zerolog logger of the client.
func Init(lcfg config.LoggingConfig) {
	level := strings.ToLower(lcfg.Level)
	levelVal := zerolog.InfoLevel
	switch level {
	case "trace":
		levelVal = zerolog.TraceLevel
	case "debug":
		levelVal = zerolog.DebugLevel
	case "info":
		levelVal = zerolog.InfoLevel
	case "warn", "warning":
		levelVal = zerolog.WarnLevel
	case "error":
		levelVal = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(levelVal)

	if strings.ToLower(lcfg.Format) == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// InitReceiver configures phuslu's default logger, used by the receiver side.
func InitReceiver(lcfg config.LoggingConfig) {
	plog.DefaultLogger.Level = plog.ParseLevel(strings.ToLower(lcfg.Level))
	if strings.ToLower(lcfg.Format) == "console" {
		plog.DefaultLogger.Writer = &plog.ConsoleWriter{ColorOutput: true, QuoteString: true}
	} else {
		plog.DefaultLogger.Writer = plog.IOWriter{Writer: os.Stderr}
	}
}
