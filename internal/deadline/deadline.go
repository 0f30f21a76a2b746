// Package deadline implements the deadline and cancellation controller:
// a monotonic wall-clock budget plus cooperative cancellation
// observed from SIGTERM or a newer NoOperation request.
package deadline

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a Checkpoint call.
type Decision int

const (
	// Continue means remaining() comfortably exceeds the stage's time estimate.
	Continue Decision = iota
	// StopWithPartial means a graceful wrap-up (status flush, no reboot) should be attempted.
	StopWithPartial
	// StopNow means the deadline has already been exceeded.
	StopNow
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case StopWithPartial:
		return "stopWithPartial"
	case StopNow:
		return "stopNow"
	default:
		return "unknown"
	}
}

// gracefulWrapUpWindow is how long a graceful wrap-up (status flush, no
// reboot) is assumed to take.
const gracefulWrapUpWindow = 60 * time.Second

// Controller tracks a single Run's deadline and cancellation state.
type Controller struct {
	deadline time.Time

	mu        sync.Mutex
	cancelled bool
	reason    string
}

// New constructs a Controller with the given absolute deadline.
func New(deadline time.Time) *Controller {
	return &Controller{deadline: deadline}
}

// Remaining returns the time left until the deadline; it is negative once exceeded.
func (c *Controller) Remaining() time.Duration {
	return time.Until(c.deadline)
}

// Cancel records an external cancellation request (SIGTERM, or a newer
// NoOperation request with the same activityId). Idempotent.
func (c *Controller) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cancelled {
		c.cancelled = true
		c.reason = reason
	}
}

// Cancelled reports whether external cancellation has been observed, and why.
func (c *Controller) Cancelled() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled, c.reason
}

// Checkpoint decides whether the next stage should run, wrap up early, or
// stop immediately.
// estimate is the caller's estimate of how long the next stage (e.g. one
// single-patch install) is likely to take; the Orchestrator is expected to
// derive this from an observed median, defaulting to a conservative constant
// for the first patch of a run.
func (c *Controller) Checkpoint(estimate time.Duration) Decision {
	if cancelled, _ := c.Cancelled(); cancelled {
		return StopWithPartial
	}
	remaining := c.Remaining()
	if remaining <= 0 {
		return StopNow
	}
	if remaining < estimate {
		if remaining >= gracefulWrapUpWindow {
			return StopWithPartial
		}
		return StopNow
	}
	return Continue
}

// WithDeadline returns a context bound to the Controller's deadline, suitable
// for passing into procrun.Run so a single command invocation cannot outlive
// the overall Run budget.
func (c *Controller) WithDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, c.deadline)
}
