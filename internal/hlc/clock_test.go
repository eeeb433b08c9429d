package hlc

import (
	"testing"
)

func TestNowStrictlyIncreasesWithFakeSource(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))

	var prev Time
	for i := 0; i < 1000; i++ {
		now := c.Now()
		if now <= prev {
			t.Fatalf("Now() did not strictly increase: prev=%#x now=%#x", prev, now)
		}
		prev = now
	}
}

func TestNowIncreasesWhenWallStalls(t *testing.T) {
	// step=0 means the fake source's wall time never advances, so Now must
	// fall back to the counter.
	src := NewFakeSource(minValidTime+1<<16, 0)
	c := New(WithSource(src))

	var prev Time
	for i := 0; i < 5; i++ {
		now := c.Now()
		if now <= prev {
			t.Fatalf("Now() did not strictly increase on stalled wall clock: prev=%#x now=%#x", prev, now)
		}
		prev = now
	}
}

func TestSeeAdvancesNow(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))

	far := fromParts((minValidTime+1<<16).Wall()+100<<16, 5)
	if !c.See(far) {
		t.Fatalf("See rejected a plausible timestamp")
	}
	now := c.Now()
	if now <= far {
		t.Fatalf("Now() after See(%#x) = %#x, want > %#x", far, now, far)
	}
}

func TestSeeRejectsExcessiveSkew(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src), WithMaxSkew(1))

	future := fromParts(src.MinValid().Wall()+(1<<40), 0)
	if c.See(future) {
		t.Fatalf("See accepted a timestamp far beyond max skew")
	}
}

func TestSeeRejectsTooOld(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))

	if c.See(1) {
		t.Fatalf("See accepted a timestamp below MinValid")
	}
}

func TestSeenTimeAlwaysAdvancesPastArgument(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))

	seen := fromParts(src.MinValid().Wall()+50<<16, 3)
	got := c.SeenTime(seen)
	if got <= seen {
		t.Fatalf("SeenTime(%#x) = %#x, want strictly greater", seen, got)
	}
}

func TestStateRoundTrip(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))
	_ = c.Now()
	_ = c.Now()
	state := c.State()

	c2 := New(WithSource(src), WithState(state))
	if c2.State() != state {
		t.Fatalf("WithState did not restore state: got %#x want %#x", c2.State(), state)
	}
}

func TestValidTime(t *testing.T) {
	src := NewFakeSource(minValidTime, 1<<16)
	c := New(WithSource(src))
	if c.ValidTime(0) {
		t.Fatalf("ValidTime(0) should be false")
	}
	if !c.ValidTime(src.MinValid()) {
		t.Fatalf("ValidTime(MinValid()) should be true")
	}
	if c.ValidTime(maxValidTime + 1) {
		t.Fatalf("ValidTime(maxValidTime+1) should be false")
	}
}
