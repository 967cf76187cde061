package uploader

import (
	"math/rand"
	"sync"
	"time"
)

const (
	minParallel     = 1
	maxParallel     = 5
	initialParallel = 2

	adjustInterval = 3 * time.Second

	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
	jitterSpan  = 0.3

	minChunkTimeout = 30 * time.Second
	maxChunkTimeout = 5 * time.Minute
	timeoutFactor   = 3

	maxAttempts = 6

	stuckMinElapsed   = 2 * time.Minute
	stuckSentFraction = 10
)

// rateBands maps the smoothed throughput onto a parallelism level:
// the rate's band index, offset from minParallel. A link slower than
// the first band settles at one chunk in flight; anything past the
// last band earns the full budget.
var rateBands = [...]float64{
	256 << 10, // below 256KB/s: 1
	1 << 20,   // below 1MB/s:   2
	4 << 20,   // below 4MB/s:   3
	16 << 20,  // below 16MB/s:  4
}

func targetParallelism(rateBps float64) int {
	for i, limit := range rateBands {
		if rateBps < limit {
			return minParallel + i
		}
	}
	return maxParallel
}

// Controller owns the client-side tuning decisions: how many chunks to
// keep in flight, how long to wait for one, when to back off, and when
// an in-flight chunk counts as stuck. Decisions key off the smoothed
// upload rate the orchestrator feeds in.
type Controller struct {
	mu         sync.Mutex
	parallel   int
	lastAdjust time.Time
	now        func() time.Time
	rng        *rand.Rand
}

// NewController returns a controller with production time and
// randomness sources.
func NewController() *Controller {
	return NewControllerWith(time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewControllerWith injects the time source and rng (for tests).
func NewControllerWith(now func() time.Time, rng *rand.Rand) *Controller {
	return &Controller{
		parallel:   initialParallel,
		now:        now,
		rng:        rng,
		lastAdjust: now(),
	}
}

// Parallelism returns the current in-flight chunk budget.
func (c *Controller) Parallelism() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parallel
}

// Adjust recomputes the in-flight budget from the smoothed rate,
// stepping one slot at a time toward the level the rate's band calls
// for. A persistently slow link converges to a single chunk in flight.
// Calls inside the adjustment interval are no-ops so a single slow
// chunk cannot whipsaw the budget.
func (c *Controller) Adjust(rateBps float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastAdjust) < adjustInterval {
		return c.parallel
	}
	c.lastAdjust = now

	if rateBps <= 0 {
		return c.parallel
	}
	target := targetParallelism(rateBps)
	switch {
	case c.parallel < target:
		c.parallel++
	case c.parallel > target:
		c.parallel--
	}
	return c.parallel
}

// NextBackoff returns the delay before retry number attempt (1-based).
// Exponential with a cap, plus proportional jitter so parallel retries
// spread out. Always strictly positive.
func (c *Controller) NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}

	c.mu.Lock()
	jitter := time.Duration(c.rng.Float64() * jitterSpan * float64(delay))
	c.mu.Unlock()
	return delay + jitter + time.Millisecond
}

// NextTimeout returns the per-attempt deadline for a chunk of size
// bytes, three times the expected transfer time at the current rate,
// clamped to sane bounds. With no rate observed yet the maximum
// applies.
func (c *Controller) NextTimeout(size int64, rateBps float64) time.Duration {
	if rateBps <= 0 {
		return maxChunkTimeout
	}
	expected := time.Duration(float64(size) / rateBps * float64(time.Second))
	timeout := timeoutFactor * expected
	if timeout < minChunkTimeout {
		return minChunkTimeout
	}
	if timeout > maxChunkTimeout {
		return maxChunkTimeout
	}
	return timeout
}

// Stuck reports whether an in-flight chunk should be aborted and
// retried: in flight long enough to matter, barely any bytes moved,
// and well past half the time the current rate says it should need.
func (c *Controller) Stuck(elapsed time.Duration, sent, size int64, rateBps float64) bool {
	if elapsed < stuckMinElapsed {
		return false
	}
	if sent >= size/stuckSentFraction {
		return false
	}
	if rateBps <= 0 {
		return true
	}
	expected := time.Duration(float64(size) / rateBps * float64(time.Second))
	return elapsed > expected/2
}
