package broker

import (
	"sync"
	"time"

	"github.com/iam-i-j-k/backend/pkg/timeutil"
)

// circuit is healthy or degraded. While degraded, calls are skipped until
// probeInterval has passed since the last failure. onTrip and onRecover run
// under the circuit lock so they observe transitions in order.
type circuit struct {
	mu            sync.Mutex
	degraded      bool
	lastFailure   time.Time
	probeInterval time.Duration
	onTrip        func()
	onRecover     func()
}

func (c *circuit) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		return true
	}
	return timeutil.Now().Sub(c.lastFailure) >= c.probeInterval
}

// fail records a failure and reports whether the circuit just tripped.
func (c *circuit) fail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFailure = timeutil.Now()
	if c.degraded {
		return false
	}
	c.degraded = true
	circuitDegraded.Set(1)
	if c.onTrip != nil {
		c.onTrip()
	}
	return true
}

// succeed records a success and reports whether the circuit just recovered.
func (c *circuit) succeed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		return false
	}
	c.degraded = false
	circuitDegraded.Set(0)
	if c.onRecover != nil {
		c.onRecover()
	}
	return true
}

func (c *circuit) isDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}
