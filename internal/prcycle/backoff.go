package prcycle

import (
	"time"

	"github.com/imkarma/taskpilot/internal/config"
)

// backoff tracks exponential retry delays between status polls.
type backoff struct {
	cfg     config.Backoff
	retries int
	delay   float64 // seconds
}

func newBackoff(cfg config.Backoff) *backoff {
	return &backoff{cfg: cfg, delay: cfg.InitialBackoff}
}

// exhausted reports whether the consecutive retry budget is spent.
func (b *backoff) exhausted() bool {
	return b.retries >= b.cfg.MaxRetries
}

// next consumes one retry and returns the delay before it.
func (b *backoff) next() time.Duration {
	b.retries++
	return b.nextUncapped()
}

// nextUncapped returns the next delay without spending the retry budget.
// CI infrastructure errors are bounded by the poll timeout instead.
func (b *backoff) nextUncapped() time.Duration {
	d := time.Duration(b.delay * float64(time.Second))
	b.delay *= b.cfg.Multiplier
	if b.delay > b.cfg.MaxBackoff {
		b.delay = b.cfg.MaxBackoff
	}
	return d
}

func (b *backoff) reset() {
	b.retries = 0
	b.delay = b.cfg.InitialBackoff
}
