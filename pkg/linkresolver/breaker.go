package linkresolver

import (
	"sync"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
)

// breakerState is the state of one destination's circuit.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// hostBreaker tracks consecutive failures against one destination host.
type hostBreaker struct {
	state        breakerState
	failures     int
	successes    int
	lastFailure  time.Time
	halfOpenReqs int
}

// BreakerGroup holds a circuit breaker per destination host. Destinations
// that keep failing transport-wise fail fast for a cooldown window instead of
// burning a full timeout per resolution.
type BreakerGroup struct {
	cfg *config.BreakerConfig
	now func() time.Time

	mu     sync.Mutex
	byHost map[string]*hostBreaker
}

// NewBreakerGroup creates a breaker group from config.
func NewBreakerGroup(cfg *config.BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		cfg:    cfg,
		now:    time.Now,
		byHost: make(map[string]*hostBreaker),
	}
}

// halfOpenMax limits concurrent probe requests while testing a recovered host.
const halfOpenMax = 3

// Allow reports whether a request to host may proceed.
func (g *BreakerGroup) Allow(host string) bool {
	if host == "" {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.byHost[host]
	if !ok {
		return true
	}

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if g.now().Sub(b.lastFailure) < g.cfg.Cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.successes = 0
		b.halfOpenReqs = 0
		fallthrough
	case breakerHalfOpen:
		if b.halfOpenReqs >= halfOpenMax {
			return false
		}
		b.halfOpenReqs++
		return true
	default:
		return true
	}
}

// RecordSuccess notes a successful resolution against host.
func (g *BreakerGroup) RecordSuccess(host string) {
	if host == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.byHost[host]
	if !ok {
		return
	}

	switch b.state {
	case breakerHalfOpen:
		b.successes++
		if b.halfOpenReqs > 0 {
			b.halfOpenReqs--
		}
		if b.successes >= g.cfg.SuccessThreshold {
			delete(g.byHost, host)
		}
	case breakerClosed:
		delete(g.byHost, host)
	}
}

// RecordFailure notes a transport-level failure against host.
func (g *BreakerGroup) RecordFailure(host string) {
	if host == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.byHost[host]
	if !ok {
		b = &hostBreaker{}
		g.byHost[host] = b
	}

	b.failures++
	b.lastFailure = g.now()

	switch b.state {
	case breakerHalfOpen:
		// A failed probe reopens the circuit immediately.
		b.state = breakerOpen
		if b.halfOpenReqs > 0 {
			b.halfOpenReqs--
		}
	case breakerClosed:
		if b.failures >= g.cfg.FailureThreshold {
			b.state = breakerOpen
		}
	}
}
