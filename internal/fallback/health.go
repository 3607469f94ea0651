package fallback

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// HealthCheck is the degenerate one-candidate chain: it answers "is this
// target reachable" without doing real work. It never returns an error;
// any failure, timeout included, converts to false.
func HealthCheck(ctx context.Context, candidate string, probe func(ctx context.Context) error, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_, err := Invoke(ctx,
		[]Candidate[struct{}]{{ID: candidate}},
		func(ctx context.Context, _ Candidate[struct{}]) (struct{}, error) {
			return struct{}{}, probe(ctx)
		},
		Options{PerAttemptTimeout: timeout},
	)
	if err != nil {
		log.Debugf("health check %s: %v", candidate, err)
		return false
	}
	return true
}
