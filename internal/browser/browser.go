// Package browser defines the driver contract for the shared browser
// session and the locking discipline workers follow when acting on it.
package browser

import (
	"context"
	"sync"
)

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Driver abstracts a live browser session. All workers share one driver;
// mutating calls must be serialized through Session.
type Driver interface {
	// Navigate loads a URL in the current tab. New tabs are never opened.
	Navigate(ctx context.Context, url string) error
	// Click sends a mouse click at viewport coordinates.
	Click(ctx context.Context, x, y float64) error
	// TypeText types text into the currently focused element.
	TypeText(ctx context.Context, text string) error
	// PressKey presses a named key, such as "Enter" or "Backspace".
	PressKey(ctx context.Context, key string) error
	// Scroll scrolls the page by the given pixel deltas.
	Scroll(ctx context.Context, dx, dy int) error
	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression and returns its string value.
	Evaluate(ctx context.Context, expression string) (string, error)
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Viewport returns the session's viewport size.
	Viewport() Viewport
	// Cleanup releases the session. The driver is unusable afterwards.
	Cleanup(ctx context.Context) error
}

// Session guards a shared driver with a read-write lock. Mutating
// actions hold the write lock; observations hold the read lock, so
// workers may perceive concurrently but never while another worker is
// mid-action.
type Session struct {
	drv Driver
	mu  sync.RWMutex
}

// NewSession wraps a driver in a session.
func NewSession(drv Driver) *Session {
	return &Session{drv: drv}
}

// Driver returns the underlying driver for lock-free accesses such as
// Viewport and Cleanup.
func (s *Session) Driver() Driver { return s.drv }

// Act runs fn while holding the write lock. Compound interactions,
// such as clearing a field and typing into it, run as one unit.
func (s *Session) Act(ctx context.Context, fn func(Driver) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.drv)
}

// Observe runs fn while holding the read lock. Screenshot and URL reads
// go through here so they never interleave with a mutating action.
func (s *Session) Observe(ctx context.Context, fn func(Driver) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.drv)
}
