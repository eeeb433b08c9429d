// Package hlc implements the Hybrid Logical Clock used to generate the
// causally ordered timestamps that back version vector revisions.
package hlc

import (
	"sync/atomic"
	"time"
)

// Time is a 64-bit hybrid logical timestamp: a 48-bit wall-time-in-nanoseconds
// component in the upper bits and a 16-bit monotonic counter in the lower bits.
type Time uint64

const (
	// None is the reserved "no timestamp" value.
	None Time = 0
	// EndOfTime sorts after every valid Time.
	EndOfTime Time = ^Time(0)

	maxValidTime Time = 1<<63 - 1

	counterMask = Time(0xFFFF)
	wallMask    = ^counterMask
)

// Wall returns the wall-time-in-nanoseconds component.
func (t Time) Wall() Time { return t & wallMask }

// Counter returns the monotonic tie-breaker component.
func (t Time) Counter() uint16 { return uint16(t & counterMask) }

func fromParts(wall Time, counter uint16) Time {
	return (wall & wallMask) | Time(counter)
}

// Source supplies the underlying wall-clock reading the HybridClock advances
// from. It is a capability the engine consumes; production code uses
// RealSource, tests use a FakeSource.
type Source interface {
	// Now returns the current wall time in nanoseconds since the Unix epoch.
	Now() Time
	// MinValid is the lowest Time this source considers plausible.
	MinValid() Time
}

// RealSource reads the system clock.
type RealSource struct{}

// minValidTime is an arbitrary floor timestamp comfortably in the past,
// used to reject obviously bogus (e.g. zeroed or negative) incoming times.
const minValidTime Time = 0x176c9a6fd6900000

func (RealSource) Now() Time      { return Time(time.Now().UnixNano()) }
func (RealSource) MinValid() Time { return minValidTime }

// FakeSource is a deterministic Source for tests: each call to Now advances
// by Step nanoseconds from an initial value.
type FakeSource struct {
	last Time
	step Time
	init Time
}

// NewFakeSource returns a FakeSource starting at t and advancing by step on
// every call to Now.
func NewFakeSource(t, step Time) *FakeSource {
	return &FakeSource{last: t.Wall(), step: step, init: t}
}

func (f *FakeSource) Now() Time {
	f.last += f.step
	return f.last
}

func (f *FakeSource) MinValid() Time { return f.init + f.step }

// defaultMaxSkew is the default bound on how far in the future a received
// timestamp may be before Clock.See rejects it.
const defaultMaxSkew = 120 * time.Second

// Clock is a process-wide HybridClock. Its zero value is not usable; build
// one with New. All methods are safe for concurrent use from any goroutine.
type Clock struct {
	last    atomic.Uint64
	source  Source
	minTime Time
	maxSkew time.Duration

	onWarn func(format string, args ...any)
}

// Option configures a Clock at construction time.
type Option func(*Clock)

// WithSource overrides the wall-clock source (default RealSource{}).
func WithSource(s Source) Option {
	return func(c *Clock) { c.source = s }
}

// WithMaxSkew overrides the maximum allowed skew for See (default 120s).
func WithMaxSkew(d time.Duration) Option {
	return func(c *Clock) { c.maxSkew = d }
}

// WithWarnFunc installs a callback invoked when See/SeenTime rejects a
// timestamp. Intended to be wired to the logging capability by the host.
func WithWarnFunc(fn func(format string, args ...any)) Option {
	return func(c *Clock) { c.onWarn = fn }
}

// WithState restores a Clock's last-emitted time, e.g. after a restart.
func WithState(state uint64) Option {
	return func(c *Clock) { c.last.Store(state) }
}

// New constructs a Clock.
func New(opts ...Option) *Clock {
	c := &Clock{
		source:  RealSource{},
		maxSkew: defaultMaxSkew,
		onWarn:  func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.minTime = c.source.MinValid()
	return c
}

// State returns the raw last-emitted time, suitable for persisting and later
// passing to WithState.
func (c *Clock) State() uint64 { return c.last.Load() }

// ValidTime reports whether t falls within the clock's acceptable range.
func (c *Clock) ValidTime(t Time) bool {
	return t >= c.minTime && t <= maxValidTime
}

func (c *Clock) checkTime(t Time) bool {
	if t < c.minTime {
		c.onWarn("hlc: received time %#x is too far in the past", uint64(t))
		return false
	}
	if t > maxValidTime {
		c.onWarn("hlc: received time %#x is invalid; distant future", uint64(t))
		return false
	}
	return true
}

// update performs a compare-and-swap loop, calling fn with the previously
// emitted time and storing whatever fn returns (unless it returns None, which
// signals "no change, report failure").
func (c *Clock) update(fn func(prev Time) Time) Time {
	for {
		prevRaw := c.last.Load()
		prev := Time(prevRaw)
		next := fn(prev)
		if next == None {
			return None
		}
		if c.last.CompareAndSwap(prevRaw, uint64(next)) {
			return next
		}
	}
}

// Now returns a new logical time, strictly greater than every Time previously
// returned by Now or accepted by See/SeenTime on this Clock.
func (c *Clock) Now() Time {
	return c.update(func(prev Time) Time {
		wall := c.source.Now().Wall()
		if wall > prev.Wall() {
			return fromParts(wall, 0)
		}
		return fromParts(prev.Wall(), prev.Counter()+1)
	})
}

// See folds a remote timestamp into the clock so that the next Now() call
// returns something greater than t. It returns false if t is out of range or
// exceeds the configured max skew ahead of local wall time; in that case the
// clock is left unmodified. See may return true without mutating state if t
// is already behind the clock's current time.
func (c *Clock) See(t Time) bool {
	if !c.checkTime(t) {
		return false
	}
	if t <= Time(c.last.Load()) {
		return true
	}
	return c.seenTime(t, false) != None
}

// SeenTime is like See but always advances the clock strictly past t,
// returning the new time, or None if t was rejected.
func (c *Clock) SeenTime(t Time) Time {
	if !c.checkTime(t) {
		return None
	}
	return c.seenTime(t, true)
}

func (c *Clock) seenTime(seen Time, skipPast bool) Time {
	var bump uint16
	if skipPast {
		bump = 1
	}
	return c.update(func(prev Time) Time {
		localWall := c.source.Now().Wall()
		seenWall := seen.Wall()
		if uint64(seenWall) > uint64(localWall)+uint64(c.maxSkew.Nanoseconds()) {
			c.onWarn("hlc: received time %#x is too far in the future (local time is %#x)", uint64(seenWall), uint64(localWall))
			return None
		}

		wall := maxTime(seenWall, maxTime(prev.Wall(), localWall))
		var counter uint16
		switch {
		case wall == prev.Wall() && wall == seenWall:
			counter = maxU16(prev.Counter(), seen.Counter()) + bump
		case wall == prev.Wall():
			counter = prev.Counter() + bump
		case wall == seenWall:
			counter = seen.Counter() + bump
		default:
			counter = 0
		}
		return fromParts(wall, counter)
	})
}

func maxTime(a, b Time) Time {
	if a > b {
		return a
	}
	return b
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
