// Package tickloop runs a fixed-rate callback whose schedule is measured
// against an absolute origin, so rounding error does not accumulate.
package tickloop

import (
	"sync"
	"time"

	"dogfight/internal/clock"
)

// MinDelay is the shortest gap between two ticks when the loop is behind.
const MinDelay = time.Millisecond

// Func is called once per tick with the 1-based tick number. Returning false
// stops the loop.
type Func func(tick int64) bool

// Loop is the cancellable handle for a running tick chain.
type Loop struct {
	clk    clock.Clock
	rate   int
	fn     Func
	origin time.Time

	mu      sync.Mutex
	tick    int64
	timer   clock.Timer
	stopped bool
}

// Start fires the first tick immediately and every following tick at
// origin + tick/rate seconds.
func Start(clk clock.Clock, rate int, fn Func) *Loop {
	if rate <= 0 {
		rate = 1
	}
	l := &Loop{
		clk:    clk,
		rate:   rate,
		fn:     fn,
		origin: clk.Now(),
	}
	l.mu.Lock()
	l.timer = clk.AfterFunc(0, l.fire)
	l.mu.Unlock()
	return l
}

// Ideal returns the offset from the origin at which tick n is due.
func Ideal(n int64, rate int) time.Duration {
	return time.Duration(n * int64(time.Second) / int64(rate))
}

// Next returns the delay before the tick following n, given the time
// already elapsed since the origin.
func Next(n int64, rate int, elapsed time.Duration) time.Duration {
	d := Ideal(n, rate) - elapsed
	if d < MinDelay {
		return MinDelay
	}
	return d
}

func (l *Loop) fire() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.tick++
	n := l.tick
	l.mu.Unlock()

	if !l.fn(n) {
		l.Stop()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.timer = l.clk.AfterFunc(Next(n, l.rate, l.clk.Now().Sub(l.origin)), l.fire)
}

// Stop cancels the pending tick. It is safe to call more than once and from
// inside the tick callback.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
	}
}

// Ticks reports how many ticks have fired.
func (l *Loop) Ticks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
