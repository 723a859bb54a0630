// Package throttle implements the sliding window guard in front of the login
// endpoint. State is process local and lost on restart.
package throttle

import (
	"sync"
	"time"

	"ristosmart-license/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

const (
	DefaultWindow = 600 * time.Second
	DefaultLimit  = 5
)

var blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "login_throttle_blocked_total",
	Help: "Login attempts rejected by the failure throttle.",
})

var Module = fx.Module("throttle",
	fx.Provide(ProvideThrottle),
)

type Throttle struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	failures map[string][]time.Time
	now      func() time.Time
}

func New(window time.Duration, limit int) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Throttle{
		window:   window,
		limit:    limit,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func ProvideThrottle(cfg *config.Config) *Throttle {
	return New(cfg.Throttle.Window, cfg.Throttle.Limit)
}

// IsBlocked drops failures older than the window and reports whether the
// remaining count reached the limit.
func (t *Throttle) IsBlocked(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := t.evict(key)
	blocked := len(q) >= t.limit
	if blocked {
		blockedTotal.Inc()
	}
	return blocked
}

// RecordFailure appends a failure for key. Only the newest limit entries are
// kept since older ones can never change the outcome of IsBlocked.
func (t *Throttle) RecordFailure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := append(t.evict(key), t.now())
	if len(q) > t.limit {
		q = q[len(q)-t.limit:]
	}
	t.failures[key] = q
}

func (t *Throttle) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

// evict must be called with mu held.
func (t *Throttle) evict(key string) []time.Time {
	q := t.failures[key]
	now := t.now()
	i := 0
	for i < len(q) && now.Sub(q[i]) > t.window {
		i++
	}
	q = q[i:]
	if len(q) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = q
	return q
}
