// Package display keeps the number a counting screen shows while live
// increments are in flight.
package display

import "sync"

// Counter is the optimistic view of one server value. Each in-flight
// increment adds one on top of the last value the server reported.
type Counter struct {
	mu       sync.Mutex
	server   int64
	inFlight int64
}

// Attempt is one optimistic increment. Floor is the rollback target fixed
// when the attempt began.
type Attempt struct {
	Floor int64
}

// New starts from a value the server reported.
func New(server int64) *Counter {
	return &Counter{server: server}
}

// Value is what the screen shows.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value()
}

func (c *Counter) value() int64 {
	return max(0, c.server) + c.inFlight
}

// Begin bumps the display before the request is sent.
func (c *Counter) Begin() Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := Attempt{Floor: max(0, c.server)}
	c.inFlight++
	return a
}

// Confirm settles an attempt with the value the server returned.
func (c *Counter) Confirm(_ Attempt, server int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = max(0, c.inFlight-1)
	c.server = server
	return c.value()
}

// Fail drops an attempt. The display returns to the attempt's floor plus
// whatever is still in flight, so it never goes below the value shown
// before the failed bump.
func (c *Counter) Fail(a Attempt) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = max(0, c.inFlight-1)
	c.server = max(c.server, a.Floor)
	return c.value()
}

// Observe takes a server value pushed from elsewhere, such as a websocket
// update.
func (c *Counter) Observe(server int64) {
	c.mu.Lock()
	c.server = server
	c.mu.Unlock()
}
