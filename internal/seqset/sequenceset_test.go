package seqset

import "testing"

func TestSequenceSetBasicRangeMerging(t *testing.T) {
	s := New()
	s.Add(100)
	s.Add(101)
	s.Add(103)
	s.Add(104)
	if got, want := s.String(), "[100-101, 103-104]"; got != want {
		t.Fatalf("after add(100,101,103,104): got %q, want %q", got, want)
	}

	s.Add(102)
	if got, want := s.String(), "[100-104]"; got != want {
		t.Fatalf("after add(102): got %q, want %q", got, want)
	}

	s.Remove(102)
	if got, want := s.String(), "[100-101, 103-104]"; got != want {
		t.Fatalf("after remove(102): got %q, want %q", got, want)
	}
}

func TestAddContainsRemove(t *testing.T) {
	s := New()
	s.Add(42)
	if !s.Contains(42) {
		t.Fatalf("Contains(42) after Add(42) = false")
	}
	s.Remove(42)
	if s.Contains(42) {
		t.Fatalf("Contains(42) after Remove(42) = true")
	}
}

func TestAddRangeContainsAllMembers(t *testing.T) {
	s := New()
	s.AddRange(10, 20)
	for i := Sequence(10); i < 20; i++ {
		if !s.Contains(i) {
			t.Fatalf("Contains(%d) = false after AddRange(10,20)", i)
		}
	}
	if s.Contains(9) || s.Contains(20) {
		t.Fatalf("AddRange(10,20) leaked outside its bounds")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := New()
	s.Add(7)
	s.Add(7)
	s.Add(7)
	if got, want := s.String(), "[7]"; got != want {
		t.Fatalf("repeated Add(7): got %q, want %q", got, want)
	}
}

func TestIntersectionUnionDifference(t *testing.T) {
	a := New()
	a.AddRange(1, 10)
	b := New()
	b.AddRange(5, 15)

	if got, want := Intersection(a, b).String(), "[5-9]"; got != want {
		t.Fatalf("Intersection: got %q, want %q", got, want)
	}
	if got, want := Union(a, b).String(), "[1-14]"; got != want {
		t.Fatalf("Union: got %q, want %q", got, want)
	}
	if got, want := Difference(a, b).String(), "[1-4]"; got != want {
		t.Fatalf("Difference: got %q, want %q", got, want)
	}
}

func TestPairsRoundTrip(t *testing.T) {
	s := New()
	s.Add(1)
	s.AddRange(4, 5)
	s.AddRange(7, 10)

	pairs := s.Pairs()
	want := []uint64{1, 1, 4, 1, 7, 3}
	if len(pairs) != len(want) {
		t.Fatalf("Pairs() = %v, want %v", pairs, want)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("Pairs() = %v, want %v", pairs, want)
		}
	}

	rebuilt, err := FromPairs(pairs)
	if err != nil {
		t.Fatalf("FromPairs: %v", err)
	}
	if got, want := rebuilt.String(), s.String(); got != want {
		t.Fatalf("FromPairs round trip: got %q, want %q", got, want)
	}
}

func TestFromPairsRejectsOddLengthAndZeroLength(t *testing.T) {
	if _, err := FromPairs([]uint64{1}); err == nil {
		t.Fatalf("FromPairs accepted an odd-length slice")
	}
	if _, err := FromPairs([]uint64{1, 0}); err == nil {
		t.Fatalf("FromPairs accepted a zero-length range")
	}
}
