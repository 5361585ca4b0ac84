package feed

import (
	"sync"
	"time"
)

// DefaultThrottleWindow caps downstream notifications at 5 per second.
const DefaultThrottleWindow = 200 * time.Millisecond

// Throttle coalesces a high-frequency stream of values into at most one
// publish per window, trailing-edge: the latest value pushed within a
// window is the one delivered, exactly once, at the end of the window.
// Intermediate values are superseded and never observed downstream.
// One pending slot, one timer; a new value before the timer fires
// overwrites the slot.
type Throttle[T any] struct {
	window  time.Duration
	publish func(T)

	mu      sync.Mutex
	pending T
	armed   bool
	timer   *time.Timer
	stopped bool
}

// NewThrottle creates a throttle delivering through publish.
// window <= 0 selects DefaultThrottleWindow.
func NewThrottle[T any](window time.Duration, publish func(T)) *Throttle[T] {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Throttle[T]{window: window, publish: publish}
}

// Push queues a value for publication. Safe for concurrent use.
func (t *Throttle[T]) Push(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.pending = v
	t.armed = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.window, t.fire)
	}
}

func (t *Throttle[T]) fire() {
	t.mu.Lock()
	if t.stopped || !t.armed {
		t.timer = nil
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.armed = false
	t.timer = nil
	t.mu.Unlock()

	// Publish outside the lock so a slow consumer cannot block Push.
	t.publish(v)
}

// Stop cancels any pending publish and discards the queued value.
// Further pushes are ignored.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
