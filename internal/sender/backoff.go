package sender

import (
	"context"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// backoff implements decorrelated-jitter exponential backoff for retrying
// rate-limited sends.
type backoff struct {
	base  time.Duration
	cap   time.Duration
	sleep time.Duration
	clock clockwork.Clock
}

func newBackoff(clock clockwork.Clock) *backoff {
	base := 500 * time.Millisecond
	return &backoff{
		base:  base,
		cap:   30 * time.Second,
		sleep: base,
		clock: clock,
	}
}

func (b *backoff) wait(ctx context.Context) error {
	span := int64(b.sleep)*3 - int64(b.base)
	b.sleep = b.base + time.Duration(rand.Int63n(span))
	if b.sleep > b.cap {
		b.sleep = b.cap
	}
	select {
	case <-b.clock.After(b.sleep):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
