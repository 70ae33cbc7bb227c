package archive

import (
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// zerologAdapter routes BadgerDB's internal logging into a zerolog logger.
type zerologAdapter struct {
	log zerolog.Logger
}

// NewLogger wraps l for Options.Logger. Badger's info chatter is logged at
// debug level.
func NewLogger(l zerolog.Logger) badger.Logger {
	return &zerologAdapter{log: l.With().Str("component", "badger").Logger()}
}

func (a *zerologAdapter) Errorf(format string, args ...interface{}) {
	a.log.Error().Msgf(trim(format), args...)
}

func (a *zerologAdapter) Warningf(format string, args ...interface{}) {
	a.log.Warn().Msgf(trim(format), args...)
}

func (a *zerologAdapter) Infof(format string, args ...interface{}) {
	a.log.Debug().Msgf(trim(format), args...)
}

func (a *zerologAdapter) Debugf(format string, args ...interface{}) {
	a.log.Trace().Msgf(trim(format), args...)
}

// trim drops the trailing newline badger puts on its format strings.
func trim(format string) string {
	return strings.TrimSuffix(format, "\n")
}
