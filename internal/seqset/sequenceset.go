// Package seqset implements SequenceSet, a compact representation of a set
// of unsigned integer sequences as sorted, non-overlapping, non-adjacent
// half-open ranges, plus Checkpoint, which layers replication-progress
// bookkeeping on top of it.
package seqset

import (
	"fmt"
	"sort"
	"strings"
)

// Sequence is the database sequence number type tracked by a SequenceSet.
type Sequence uint64

// rng is a half-open range [Start, End).
type rng struct {
	start, end Sequence
}

// SequenceSet is a sorted set of half-open, non-adjacent, non-overlapping
// ranges. The zero value is an empty set, ready to use.
type SequenceSet struct {
	ranges []rng // sorted by start, ascending
}

// New returns an empty SequenceSet.
func New() *SequenceSet { return &SequenceSet{} }

// IsEmpty reports whether the set contains no sequences.
func (s *SequenceSet) IsEmpty() bool { return len(s.ranges) == 0 }

// First returns the smallest sequence in the set, or 0 if empty.
func (s *SequenceSet) First() Sequence {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[0].start
}

// Last returns the largest sequence in the set, or 0 if empty.
func (s *SequenceSet) Last() Sequence {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].end - 1
}

// Size returns the total count of sequences represented by the set.
func (s *SequenceSet) Size() uint64 {
	var n uint64
	for _, r := range s.ranges {
		n += uint64(r.end - r.start)
	}
	return n
}

// RangesCount returns the number of disjoint ranges in the set.
func (s *SequenceSet) RangesCount() int { return len(s.ranges) }

// Contains reports whether seq is a member of the set.
func (s *SequenceSet) Contains(seq Sequence) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].end > seq })
	return i < len(s.ranges) && s.ranges[i].start <= seq
}

// Add inserts seq into the set, merging with adjacent ranges as needed.
func (s *SequenceSet) Add(seq Sequence) {
	s.AddRange(seq, seq+1)
}

// AddRange inserts the half-open range [start, end) into the set, merging
// with any ranges it touches or overlaps. A no-op if end <= start.
func (s *SequenceSet) AddRange(start, end Sequence) {
	if end <= start {
		return
	}
	// Find the insertion point: the first range whose end is >= start (so
	// it might be mergeable or precede the new range).
	lo := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].end >= start })
	hi := lo
	for hi < len(s.ranges) && s.ranges[hi].start <= end {
		hi++
	}
	if lo < hi {
		if s.ranges[lo].start < start {
			start = s.ranges[lo].start
		}
		if s.ranges[hi-1].end > end {
			end = s.ranges[hi-1].end
		}
	}
	merged := make([]rng, 0, len(s.ranges)-(hi-lo)+1)
	merged = append(merged, s.ranges[:lo]...)
	merged = append(merged, rng{start, end})
	merged = append(merged, s.ranges[hi:]...)
	s.ranges = merged
}

// Remove deletes seq from the set, splitting or shrinking its containing
// range. A no-op if seq is absent.
func (s *SequenceSet) Remove(seq Sequence) {
	s.RemoveRange(seq, seq+1)
}

// RemoveRange deletes the half-open range [start, end) from the set.
func (s *SequenceSet) RemoveRange(start, end Sequence) {
	if end <= start || len(s.ranges) == 0 {
		return
	}
	var out []rng
	for _, r := range s.ranges {
		if r.end <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start < start {
			out = append(out, rng{r.start, start})
		}
		if r.end > end {
			out = append(out, rng{end, r.end})
		}
	}
	s.ranges = out
}

// Clone returns an independent copy of s.
func (s *SequenceSet) Clone() *SequenceSet {
	return &SequenceSet{ranges: append([]rng(nil), s.ranges...)}
}

// Ranges returns the set's ranges as (start, end) pairs, sorted ascending.
func (s *SequenceSet) Ranges() [][2]Sequence {
	out := make([][2]Sequence, len(s.ranges))
	for i, r := range s.ranges {
		out[i] = [2]Sequence{r.start, r.end}
	}
	return out
}

// Intersection returns the set of sequences present in both a and b.
func Intersection(a, b *SequenceSet) *SequenceSet {
	out := New()
	i, j := 0, 0
	for i < len(a.ranges) && j < len(b.ranges) {
		ar, br := a.ranges[i], b.ranges[j]
		start := max64(ar.start, br.start)
		end := min64(ar.end, br.end)
		if start < end {
			out.ranges = append(out.ranges, rng{start, end})
		}
		if ar.end < br.end {
			i++
		} else {
			j++
		}
	}
	return out
}

// Union returns the set of sequences present in either a or b.
func Union(a, b *SequenceSet) *SequenceSet {
	out := a.Clone()
	for _, r := range b.ranges {
		out.AddRange(r.start, r.end)
	}
	return out
}

// Difference returns the sequences present in a but not in b.
func Difference(a, b *SequenceSet) *SequenceSet {
	out := a.Clone()
	for _, r := range b.ranges {
		out.RemoveRange(r.start, r.end)
	}
	return out
}

func max64(a, b Sequence) Sequence {
	if a > b {
		return a
	}
	return b
}

func min64(a, b Sequence) Sequence {
	if a < b {
		return a
	}
	return b
}

// String renders the set as "[a, b-c, …]", using "b-c" for ranges of length
// greater than 1 and a bare number for singleton ranges.
func (s *SequenceSet) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteString(", ")
		}
		if r.end-r.start == 1 {
			fmt.Fprintf(&b, "%d", r.start)
		} else {
			fmt.Fprintf(&b, "%d-%d", r.start, r.end-1)
		}
	}
	b.WriteByte(']')
	return b.String()
}

// Pairs returns the set's ranges as a flat (start, length, start, length, …)
// slice, the encoding Checkpoint's JSON form uses for "localPending".
func (s *SequenceSet) Pairs() []uint64 {
	out := make([]uint64, 0, 2*len(s.ranges))
	for _, r := range s.ranges {
		out = append(out, uint64(r.start), uint64(r.end-r.start))
	}
	return out
}

// FromPairs builds a SequenceSet from the flat (start, length, …) encoding.
// It rejects odd-length input and any length <= 0.
func FromPairs(pairs []uint64) (*SequenceSet, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("seqset: pairs slice must have even length, got %d", len(pairs))
	}
	s := New()
	for i := 0; i < len(pairs); i += 2 {
		start, length := pairs[i], pairs[i+1]
		if length == 0 {
			return nil, fmt.Errorf("seqset: zero-length range at offset %d", i)
		}
		s.AddRange(Sequence(start), Sequence(start+length))
	}
	return s, nil
}
