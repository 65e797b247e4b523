package logtrace

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// IsTraceEnabled reports whether protocol tracing is on. Tracing logs every
// inbound frame, including the ones discarded by correlation.
func IsTraceEnabled() bool {
	return log.Logger.GetLevel() <= zerolog.TraceLevel
}
