package logging

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// WithAttempt builds a log entry for one transport attempt of a logical
// request. Extras take precedence on key conflicts.
func WithAttempt(requestID, endpoint string, attempt int, extras log.Fields) *log.Entry {
	fields := log.Fields{
		"request_id": requestID,
		"endpoint":   endpoint,
		"attempt":    attempt,
	}
	for k, v := range extras {
		fields[k] = v
	}
	return log.WithFields(fields)
}

// DurationMS converts a duration to integer milliseconds for logging.
func DurationMS(d time.Duration) int64 { return d.Milliseconds() }
