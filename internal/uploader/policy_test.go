package uploader

import (
	"math/rand"
	"testing"
	"time"
)

func newTestController(now *time.Time) *Controller {
	return NewControllerWith(func() time.Time { return *now }, rand.New(rand.NewSource(1)))
}

func TestBackoffGrowsAndStaysPositive(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	prev := time.Duration(0)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d := c.NextBackoff(attempt)
		if d <= 0 {
			t.Fatalf("attempt %d: backoff %v is not positive", attempt, d)
		}
		if d <= prev/2 {
			t.Errorf("attempt %d: backoff %v collapsed from %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffCapped(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	limit := backoffCap + time.Duration(jitterSpan*float64(backoffCap)) + time.Millisecond
	for _, attempt := range []int{10, 20, 63} {
		if d := c.NextBackoff(attempt); d > limit {
			t.Errorf("attempt %d: backoff %v above cap %v", attempt, d, limit)
		}
	}
}

func TestTimeoutClamps(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	if got := c.NextTimeout(10<<20, 0); got != maxChunkTimeout {
		t.Errorf("no rate: timeout = %v, want %v", got, maxChunkTimeout)
	}
	if got := c.NextTimeout(1024, 100<<20); got != minChunkTimeout {
		t.Errorf("fast link: timeout = %v, want %v", got, minChunkTimeout)
	}
	// 30MB at 1MB/s is 30s expected, tripled to 90s.
	if got := c.NextTimeout(30<<20, 1<<20); got != 90*time.Second {
		t.Errorf("mid range: timeout = %v, want 90s", got)
	}
	if got := c.NextTimeout(500<<20, 1<<20); got != maxChunkTimeout {
		t.Errorf("huge chunk: timeout = %v, want %v", got, maxChunkTimeout)
	}
}

func TestParallelismConvergesDownOnSlowLink(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	// A steadily slow link must settle at a single chunk in flight,
	// no matter how long the rate stays flat.
	for i := 0; i < 100; i++ {
		now = now.Add(adjustInterval)
		c.Adjust(50 * 1024)
	}
	if got := c.Parallelism(); got != minParallel {
		t.Errorf("steady slow link: parallelism = %d, want %d", got, minParallel)
	}
}

func TestParallelismRampsUpOnFastLink(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	// A saturated fast link keeps ramping even once the rate plateaus.
	for i := 0; i < 10; i++ {
		now = now.Add(adjustInterval)
		c.Adjust(100 << 20)
	}
	if got := c.Parallelism(); got != maxParallel {
		t.Errorf("steady fast link: parallelism = %d, want %d", got, maxParallel)
	}
}

func TestParallelismTracksModerateRate(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	for i := 0; i < 10; i++ {
		now = now.Add(adjustInterval)
		c.Adjust(2 << 20)
	}
	if got := c.Parallelism(); got != 3 {
		t.Errorf("2MB/s link: parallelism = %d, want 3", got)
	}
}

func TestParallelismStepsOneLevelPerAdjust(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	now = now.Add(adjustInterval)
	if got := c.Adjust(100 << 20); got != initialParallel+1 {
		t.Errorf("single adjust jumped to %d, want %d", got, initialParallel+1)
	}
}

func TestParallelismStableInsideInterval(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	before := c.Parallelism()
	c.Adjust(1_000_000)
	now = now.Add(adjustInterval / 2)
	c.Adjust(100_000_000)
	if got := c.Parallelism(); got != before {
		t.Errorf("parallelism changed to %d inside the adjust interval", got)
	}
}

func TestStuckRule(t *testing.T) {
	now := time.Now()
	c := newTestController(&now)

	size := int64(10 << 20)
	rate := float64(1 << 20) // expects ~10s per chunk

	if c.Stuck(time.Minute, 0, size, rate) {
		t.Error("stuck before the minimum elapsed time")
	}
	if !c.Stuck(3*time.Minute, 0, size, rate) {
		t.Error("not stuck despite zero bytes after 3 minutes")
	}
	if c.Stuck(3*time.Minute, size/2, size, rate) {
		t.Error("stuck despite half the chunk already sent")
	}
	if !c.Stuck(3*time.Minute, 0, size, 0) {
		t.Error("not stuck with no rate estimate and zero bytes sent")
	}
}
