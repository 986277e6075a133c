package functional

import (
	"sync"
	"time"
)

// DefaultCaptureLimit bounds the retained output; older bytes are dropped
const DefaultCaptureLimit = 1 << 20

// Capture records the test runner output between Start and Stop. One Capture
// belongs to one stage execution and is passed in explicitly, so concurrent
// runs never share state. Writes outside the active window are discarded.
type Capture struct {
	mu      sync.Mutex
	active  bool
	limit   int
	buf     []byte
	dropped int64
	started time.Time
	stopped time.Time
}

// NewCapture creates an inactive capture retaining at most limit bytes
func NewCapture(limit int) *Capture {
	if limit <= 0 {
		limit = DefaultCaptureLimit
	}
	return &Capture{limit: limit}
}

// Start begins recording, clearing anything captured before
func (c *Capture) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
	c.buf = c.buf[:0]
	c.dropped = 0
	c.started = time.Now()
	c.stopped = time.Time{}
}

// Stop ends recording; the captured output stays readable
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		c.active = false
		c.stopped = time.Now()
	}
}

// Active reports whether the capture is recording
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Write implements io.Writer
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return len(p), nil
	}

	c.buf = append(c.buf, p...)
	if over := len(c.buf) - c.limit; over > 0 {
		c.dropped += int64(over)
		c.buf = append(c.buf[:0], c.buf[over:]...)
	}
	return len(p), nil
}

// Output returns the retained output
func (c *Capture) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Dropped returns how many leading bytes were discarded to respect the limit
func (c *Capture) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Elapsed returns the duration of the capture window so far
func (c *Capture) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.started.IsZero():
		return 0
	case c.stopped.IsZero():
		return time.Since(c.started)
	default:
		return c.stopped.Sub(c.started)
	}
}
