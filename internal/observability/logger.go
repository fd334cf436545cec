package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the console logger for the admin surface and installs
// it as the zerolog global. Output goes to stderr: in shuttle workers
// stdout belongs to the frame channel.
func InitLogger(service string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("service", service).Logger()
	log.Logger = logger
	return logger
}
