package requester

import (
	"math"
	"time"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// maxAttempts is the total number of tries (first attempt + 2 retries)
// before a failure becomes fatal for that request.
const maxAttempts = 3

// isRetriableStatus reports whether an HTTP response status warrants a
// retry rather than an immediate fatal failure.
func isRetriableStatus(status *int) bool {
	if status == nil {
		return true // no status at all: treat as a transport-level failure, retriable.
	}
	s := *status
	return s == 404 || s == 412 || s >= 500
}

// backoffDelay computes the jittered exponential backoff for the Nth
// failed attempt (1-indexed), per category base/max.
func backoffDelay(backoff host.RetryBackoff, attemptsFailed int, random host.RandomSource) time.Duration {
	raw := float64(backoff.Base) * math.Pow(2, float64(attemptsFailed-1))
	if max := float64(backoff.Max); raw > max {
		raw = max
	}
	fuzz := 0.7 + random.Float64()*0.6 // uniform in [0.7, 1.3)
	return time.Duration(raw * fuzz)
}
