package activity

import (
	"sync"
	"sync/atomic"
)

// Counter counts requests that are on the wire. Observers are notified of
// every change, typically to drive a loading indicator.
type Counter struct {
	n        atomic.Int64
	onChange func(int64)
}

func NewCounter(onChange func(int64)) *Counter {
	return &Counter{onChange: onChange}
}

// Begin increments the counter. The returned end decrements it, any number
// of calls to end decrement exactly once.
func (c *Counter) Begin() (end func()) {
	c.notify(c.n.Add(1))
	var once sync.Once
	return func() {
		once.Do(func() {
			c.notify(c.n.Add(-1))
		})
	}
}

func (c *Counter) Value() int64 {
	return c.n.Load()
}

func (c *Counter) notify(v int64) {
	if c.onChange != nil {
		c.onChange(v)
	}
}
