package ember

// rate_limiter.go throttles background I/O. The compaction job asks the
// limiter for quota before each block of output it writes (see the
// rateLimiterAdapter in background.go), which smooths compaction I/O
// instead of letting it burst against foreground reads.

import (
	"sync"
	"time"
)

// RateLimiterMode selects which I/O the limiter throttles.
type RateLimiterMode int

const (
	// RateLimiterModeReadsOnly throttles reads only.
	RateLimiterModeReadsOnly RateLimiterMode = iota
	// RateLimiterModeWritesOnly throttles background writes (compaction,
	// flush). This is the default: foreground latency is what the limiter
	// exists to protect.
	RateLimiterModeWritesOnly
	// RateLimiterModeAllIO throttles everything.
	RateLimiterModeAllIO
)

// IOPriority labels who is asking for quota.
type IOPriority int

const (
	// IOPriorityLow is background work: compaction and flush.
	IOPriorityLow IOPriority = iota
	// IOPriorityHigh is foreground reads and writes.
	IOPriorityHigh
	// IOPriorityTotal is the number of priority classes.
	IOPriorityTotal
)

// RateLimiter hands out byte quota to I/O issuers. Request blocks until
// the quota is available, so callers simply bracket their writes with it.
type RateLimiter interface {
	// Request blocks until n bytes of quota are available, then consumes
	// them.
	Request(n int64, priority IOPriority)

	// SetBytesPerSecond changes the rate at runtime.
	SetBytesPerSecond(bytesPerSecond int64)

	// GetBytesPerSecond returns the configured rate.
	GetBytesPerSecond() int64

	// GetTotalBytesThrough returns the bytes granted to a priority class.
	GetTotalBytesThrough(priority IOPriority) int64

	// GetTotalRequests returns the request count for a priority class.
	GetTotalRequests(priority IOPriority) int64

	// IsRateLimited reports whether the mode covers the priority class.
	IsRateLimited(priority IOPriority) bool
}

// RateLimiterOptions configures a GenericRateLimiter.
type RateLimiterOptions struct {
	// BytesPerSecond is the sustained rate.
	BytesPerSecond int64

	// RefillPeriod bounds how long a waiter sleeps between refill checks.
	RefillPeriod time.Duration

	// Fairness is reserved for priority-aware queueing; the current
	// limiter grants quota first-come-first-served.
	Fairness int64

	// Mode selects which I/O is throttled.
	Mode RateLimiterMode
}

// DefaultRateLimiterOptions returns the defaults: 100 MB/s over background
// writes, refilled every 100ms.
func DefaultRateLimiterOptions() *RateLimiterOptions {
	return &RateLimiterOptions{
		BytesPerSecond: 100 * 1024 * 1024,
		RefillPeriod:   100 * time.Millisecond,
		Fairness:       10,
		Mode:           RateLimiterModeWritesOnly,
	}
}

// GenericRateLimiter is a token bucket: quota accrues with wall-clock time
// up to one second's worth of burst, and requesters sleep until their
// demand is covered.
type GenericRateLimiter struct {
	mu sync.Mutex

	bytesPerSecond int64
	refillPeriod   time.Duration
	mode           RateLimiterMode

	// Bucket state
	available  int64
	lastRefill time.Time

	totalBytesThrough [IOPriorityTotal]int64
	totalRequests     [IOPriorityTotal]int64
}

// NewGenericRateLimiter creates a rate limiter from opts (nil means
// defaults).
func NewGenericRateLimiter(opts *RateLimiterOptions) *GenericRateLimiter {
	if opts == nil {
		opts = DefaultRateLimiterOptions()
	}
	refill := opts.RefillPeriod
	if refill == 0 {
		refill = 100 * time.Millisecond
	}
	return &GenericRateLimiter{
		bytesPerSecond: opts.BytesPerSecond,
		refillPeriod:   refill,
		mode:           opts.Mode,
		lastRefill:     time.Now(),
		// Seed the bucket with one refill period's worth so the first
		// request does not stall.
		available: opts.BytesPerSecond / 10,
	}
}

// NewRateLimiter creates a background-write limiter at the given rate.
func NewRateLimiter(bytesPerSecond int64) RateLimiter {
	return NewGenericRateLimiter(&RateLimiterOptions{
		BytesPerSecond: bytesPerSecond,
	})
}

// Request blocks until n bytes of quota are available, then consumes them.
func (rl *GenericRateLimiter) Request(n int64, priority IOPriority) {
	if n <= 0 {
		return
	}

	rl.mu.Lock()
	rl.totalRequests[priority]++
	rl.totalBytesThrough[priority] += n
	rl.refillLocked()

	for rl.available < n {
		needed := n - rl.available
		wait := min(time.Duration(needed*int64(time.Second))/time.Duration(rl.bytesPerSecond), rl.refillPeriod)

		rl.mu.Unlock()
		time.Sleep(wait)
		rl.mu.Lock()

		rl.refillLocked()
	}
	rl.available -= n
	rl.mu.Unlock()
}

// refillLocked accrues quota for the elapsed wall-clock time, capped at
// one second's worth of burst. Called with mu held.
func (rl *GenericRateLimiter) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed < time.Millisecond {
		return
	}
	rl.available += int64(float64(rl.bytesPerSecond) * elapsed.Seconds())
	rl.lastRefill = now
	if rl.available > rl.bytesPerSecond {
		rl.available = rl.bytesPerSecond
	}
}

// SetBytesPerSecond changes the rate at runtime.
func (rl *GenericRateLimiter) SetBytesPerSecond(bytesPerSecond int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.bytesPerSecond = bytesPerSecond
}

// GetBytesPerSecond returns the configured rate.
func (rl *GenericRateLimiter) GetBytesPerSecond() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.bytesPerSecond
}

// GetTotalBytesThrough returns the bytes granted to a priority class.
func (rl *GenericRateLimiter) GetTotalBytesThrough(priority IOPriority) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.totalBytesThrough[priority]
}

// GetTotalRequests returns the request count for a priority class.
func (rl *GenericRateLimiter) GetTotalRequests(priority IOPriority) int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.totalRequests[priority]
}

// IsRateLimited reports whether the mode covers the priority class.
func (rl *GenericRateLimiter) IsRateLimited(priority IOPriority) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	switch rl.mode {
	case RateLimiterModeReadsOnly:
		return priority == IOPriorityHigh
	case RateLimiterModeWritesOnly:
		return priority == IOPriorityLow
	case RateLimiterModeAllIO:
		return true
	default:
		return false
	}
}
