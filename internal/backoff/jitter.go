package backoff

import (
	"math/rand"
	"time"
)

// JitterType selects how WithJitter randomizes a policy's computed
// interval. Transfer retries jitter by default (internal/transfer) so
// that a batch of objects that all started failing around the same
// moment — a remote going briefly unreachable mid-Push — don't all
// wake up and retry in lockstep against it.
type JitterType int

const (
	// NoJitter passes the underlying policy's interval through unchanged.
	NoJitter JitterType = iota
	// FullJitter picks uniformly from [0, interval].
	FullJitter
	// Jitter picks uniformly from [0.5*interval, 1.5*interval).
	Jitter
)

// JitterFunc randomizes interval per a JitterType.
type JitterFunc func(interval time.Duration) time.Duration

// NewJitterFunc returns the JitterFunc for jt.
func NewJitterFunc(jt JitterType) JitterFunc {
	switch jt {
	case FullJitter:
		return func(interval time.Duration) time.Duration {
			if interval <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(interval) + 1))
		}
	case Jitter:
		return func(interval time.Duration) time.Duration {
			if interval <= 0 {
				return 0
			}
			half := int64(interval) / 2
			return time.Duration(half + rand.Int63n(int64(interval)))
		}
	default:
		return func(interval time.Duration) time.Duration {
			if interval < 0 {
				return 0
			}
			return interval
		}
	}
}

type jitteredPolicy struct {
	base RetryPolicy
	jit  JitterFunc
}

// WithJitter wraps base so every computed interval is randomized by jt
// before it reaches the caller. An error from base (e.g.
// ErrRetriesExhausted) passes through untouched.
func WithJitter(base RetryPolicy, jt JitterType) RetryPolicy {
	return &jitteredPolicy{base: base, jit: NewJitterFunc(jt)}
}

func (p *jitteredPolicy) ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.base.ComputeNextInterval(retryCount, elapsedTime, err)
	if computeErr != nil {
		return interval, computeErr
	}
	return p.jit(interval), nil
}
