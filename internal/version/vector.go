package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/adred-codev/blip/internal/hlc"
)

// Order is the result of comparing two VersionVectors (or a vector against a
// single Version).
type Order int

const (
	Same Order = iota
	Older
	Newer
	Conflicting
)

func (o Order) String() string {
	switch o {
	case Same:
		return "Same"
	case Older:
		return "Older"
	case Newer:
		return "Newer"
	case Conflicting:
		return "Conflicting"
	default:
		return "Invalid"
	}
}

// VersionVector is an ordered sequence of Versions, at most one per
// SourceID outside the merge prefix. The first Version is the current
// version; an optional prefix of length nCurrent >= 1 are "merge parents".
type VersionVector struct {
	versions []Version
	nCurrent int
}

// New builds a VersionVector from explicit versions. nCurrent is the length
// of the merge-parent prefix (including the current version itself); pass 1
// for an ordinary (non-merge) vector.
func New(versions []Version, nCurrent int) (*VersionVector, error) {
	vv := &VersionVector{versions: append([]Version(nil), versions...), nCurrent: nCurrent}
	if err := vv.validate(); err != nil {
		return nil, err
	}
	return vv, nil
}

func (v *VersionVector) validate() error {
	if len(v.versions) == 0 {
		return nil
	}
	if v.nCurrent < 1 || v.nCurrent > len(v.versions) {
		return fmt.Errorf("version: invalid merge-prefix length %d for %d versions", v.nCurrent, len(v.versions))
	}
	curSrc := v.versions[0].Source
	seen := map[SourceID]int{}
	for i, ver := range v.versions {
		if i < v.nCurrent {
			continue // merge prefix: repeats of curSrc permitted (checked below)
		}
		if ver.Source == curSrc {
			return fmt.Errorf("version: current source %v repeated outside merge prefix", curSrc)
		}
		if prev, ok := seen[ver.Source]; ok {
			return fmt.Errorf("version: source %v appears twice (positions %d, %d)", ver.Source, prev, i)
		}
		seen[ver.Source] = i
	}
	// The current source may appear once more within the merge prefix, iff
	// its time there is strictly less than the current version's time.
	extra := 0
	for i := 1; i < v.nCurrent; i++ {
		if v.versions[i].Source == curSrc {
			extra++
			if v.versions[i].Time >= v.versions[0].Time {
				return fmt.Errorf("version: repeated current source in merge prefix must have strictly smaller time")
			}
		}
	}
	if extra > 1 {
		return fmt.Errorf("version: current source may appear at most once more in the merge prefix")
	}
	return nil
}

// Count returns the number of Versions in the vector.
func (v *VersionVector) Count() int { return len(v.versions) }

// Current returns the vector's first (most recent) Version. Returns the
// zero Version if the vector is empty.
func (v *VersionVector) Current() Version {
	if len(v.versions) == 0 {
		return Version{}
	}
	return v.versions[0]
}

// Versions returns a copy of the vector's entries, in order.
func (v *VersionVector) Versions() []Version {
	return append([]Version(nil), v.versions...)
}

// NCurrent returns the length of the merge-parent prefix.
func (v *VersionVector) NCurrent() int { return v.nCurrent }

// TimeOf returns the time this vector records for peer, or hlc.None if the
// peer is unknown to it.
func (v *VersionVector) TimeOf(peer SourceID) hlc.Time {
	for _, ver := range v.versions {
		if ver.Source == peer {
			return ver.Time
		}
	}
	return hlc.None
}

// IncrementGen advances peer's entry to a new time obtained from clock
// (guaranteed greater than any time clock has already seen or emitted) and
// moves it to the front as the new current version. Returns the new Version.
func (v *VersionVector) IncrementGen(peer SourceID, clock *hlc.Clock) Version {
	if prior := v.TimeOf(peer); prior != hlc.None {
		clock.See(prior)
	}
	nv := Version{Time: clock.Now(), Source: peer}
	rest := make([]Version, 0, len(v.versions)+1)
	for _, ver := range v.versions {
		if ver.Source == peer {
			continue
		}
		rest = append(rest, ver)
	}
	v.versions = append([]Version{nv}, rest...)
	v.nCurrent = 1
	return nv
}

// Add prepends v as the new current version. It fails if the vector already
// has an entry for v.Source whose time is >= v.Time (the new version must be
// causally newer than anything already recorded for its author).
func (vec *VersionVector) Add(v Version) error {
	if existing := vec.TimeOf(v.Source); existing != hlc.None && existing >= v.Time {
		return fmt.Errorf("version: cannot add %v: already have newer-or-equal entry for %v", v, v.Source)
	}
	rest := make([]Version, 0, len(vec.versions)+1)
	for _, ver := range vec.versions {
		if ver.Source == v.Source {
			continue
		}
		rest = append(rest, ver)
	}
	vec.versions = append([]Version{v}, rest...)
	vec.nCurrent = 1
	return nil
}

// CompareToVersion reports how vec's knowledge relates to a single Version
// v: Same if vec's recorded time for v.Source exactly equals v.Time, Newer
// if vec has moved past it, Older if vec has not yet seen it (including not
// knowing about v.Source at all).
func (vec *VersionVector) CompareToVersion(v Version) Order {
	t := vec.TimeOf(v.Source)
	switch {
	case t == hlc.None:
		return Older
	case t == v.Time:
		return Same
	case t > v.Time:
		return Newer
	default:
		return Older
	}
}

// Compare orders two vectors by causal history, comparing each against the
// other's current version.
func Compare(a, b *VersionVector) Order {
	ac, bc := a.Current(), b.Current()
	if ac.Source == bc.Source && ac.Time == bc.Time {
		return Same
	}
	aKnowsB := a.CompareToVersion(bc) != Older
	bKnowsA := b.CompareToVersion(ac) != Older
	switch {
	case aKnowsB && !bKnowsA:
		return Newer
	case bKnowsA && !aKnowsB:
		return Older
	case !aKnowsB && !bKnowsA:
		return Conflicting
	default:
		return Same
	}
}

// Compare is a convenience wrapper around the package-level Compare.
func (a *VersionVector) Compare(b *VersionVector) Order { return Compare(a, b) }

// MergedWith returns the causal union of a and b without consulting a
// clock: the receiver's current version, then the argument's current
// version (deduplicated if they share a source, keeping the later time),
// then every other peer appearing in either vector at the max of the two
// recorded times, sorted by descending time. The result's merge prefix spans
// all of its entries (NCurrent equals Count), so its ASCII form carries no
// ';' merge separator.
func (a *VersionVector) MergedWith(b *VersionVector) *VersionVector {
	vv, _ := a.mergedWith(b)
	return vv
}

// mergedWith is MergedWith's implementation; it additionally reports how
// many of the leading entries are distinct merge parents (1 if a and b's
// current versions share a source, 2 otherwise), for Merge's use.
func (a *VersionVector) mergedWith(b *VersionVector) (*VersionVector, int) {
	ac, bc := a.Current(), b.Current()

	head := []Version{ac}
	parents := 1
	if bc.Source != ac.Source {
		head = append(head, bc)
		parents = 2
	} else if bc.Time > ac.Time {
		head[0] = bc
	}

	seen := map[SourceID]bool{ac.Source: true, bc.Source: true}
	type entry struct {
		src SourceID
		t   hlc.Time
	}
	var rest []entry
	order := []SourceID{}
	for _, ver := range a.versions {
		if !seen[ver.Source] {
			seen[ver.Source] = true
			order = append(order, ver.Source)
		}
	}
	for _, ver := range b.versions {
		if !seen[ver.Source] {
			seen[ver.Source] = true
			order = append(order, ver.Source)
		}
	}
	for _, src := range order {
		t := a.TimeOf(src)
		if bt := b.TimeOf(src); bt > t {
			t = bt
		}
		rest = append(rest, entry{src, t})
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].t > rest[j].t })

	out := append([]Version(nil), head...)
	for _, e := range rest {
		out = append(out, Version{Time: e.t, Source: e.src})
	}
	// nCurrent spans the whole vector so String renders it as an ordinary
	// comma-separated history with no ';' merge-prefix marker, per
	// MergedWith's contract above.
	vv, err := New(out, len(out))
	if err != nil {
		// head is always one or two distinct-source entries; construction
		// cannot violate the vector invariants.
		panic(err)
	}
	return vv, parents
}

// Merge builds the VersionVector for a brand-new local revision that
// resolves a conflict between a and b: its current version is a fresh
// (clock.Now(), Me), followed by a's and b's current versions (in
// descending time order), followed by every other peer at the max of the
// two recorded times (descending time).
func Merge(a, b *VersionVector, clock *hlc.Clock) *VersionVector {
	combined, parents := a.mergedWith(b)
	if parents == 2 && combined.versions[1].Time > combined.versions[0].Time {
		combined.versions[0], combined.versions[1] = combined.versions[1], combined.versions[0]
	}
	now := clock.Now()
	head := Version{Time: now, Source: Me}
	out := append([]Version{head}, combined.versions...)
	vv, err := New(out, parents+1)
	if err != nil {
		panic(err)
	}
	return vv
}

// Canonicalize replaces the Me sentinel with myID throughout the vector,
// for writing to the wire. It fails if myID is already present.
func (v *VersionVector) Canonicalize(myID SourceID) error {
	if myID.IsMe() {
		return fmt.Errorf("version: cannot canonicalize with the Me sentinel itself")
	}
	if v.TimeOf(myID) != hlc.None {
		return fmt.Errorf("version: source %v already present in vector", myID)
	}
	for i := range v.versions {
		if v.versions[i].Source.IsMe() {
			v.versions[i].Source = myID
		}
	}
	return nil
}

// CompactMyPeerID is the inverse of Canonicalize: it replaces myID with the
// Me sentinel after reading a vector off the wire. It fails if Me is
// already present.
func (v *VersionVector) CompactMyPeerID(myID SourceID) error {
	if v.TimeOf(Me) != hlc.None {
		return fmt.Errorf("version: Me sentinel already present in vector")
	}
	for i := range v.versions {
		if v.versions[i].Source == myID {
			v.versions[i].Source = Me
		}
	}
	return nil
}

// DeltaFrom returns the prefix of v's versions that src does not already
// know about exactly (same source and time); this is the minimal set of
// versions that, combined with src, reconstructs v via ByApplyingDelta.
func (v *VersionVector) DeltaFrom(src *VersionVector) []Version {
	var delta []Version
	for _, ver := range v.versions {
		if src.TimeOf(ver.Source) == ver.Time {
			break
		}
		delta = append(delta, ver)
	}
	return delta
}

// ByApplyingDelta reconstructs a full vector by prepending delta (newest
// knowledge) onto v, dropping any of v's entries whose source also appears
// in delta.
func (v *VersionVector) ByApplyingDelta(delta []Version) *VersionVector {
	if len(delta) == 0 {
		cp := *v
		cp.versions = append([]Version(nil), v.versions...)
		return &cp
	}
	inDelta := make(map[SourceID]bool, len(delta))
	for _, d := range delta {
		inDelta[d.Source] = true
	}
	out := append([]Version(nil), delta...)
	for _, ver := range v.versions {
		if !inDelta[ver.Source] {
			out = append(out, ver)
		}
	}
	vv, err := New(out, len(delta))
	if err != nil {
		// Fall back to a single-element merge prefix if delta's shape
		// doesn't form a valid merge prefix on its own.
		vv, err = New(out, 1)
		if err != nil {
			panic(err)
		}
	}
	return vv
}

// String renders the vector's ASCII form: comma-separated merge-prefix
// versions, optionally followed by ';' and comma-separated tail versions.
func (v *VersionVector) String() string {
	var b strings.Builder
	for i, ver := range v.versions {
		if i == 0 {
			// no separator
		} else if i == v.nCurrent {
			b.WriteByte(';')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(ver.String())
	}
	return b.String()
}

// ParseASCII parses the "time@peer,…;time@peer,…" form produced by String.
func ParseASCII(s string) (*VersionVector, error) {
	if s == "" {
		return New(nil, 0)
	}
	head, tail, hasTail := strings.Cut(s, ";")
	var versions []Version
	nCurrent := 0
	for _, tok := range strings.Split(head, ",") {
		ver, err := ParseVersion(tok)
		if err != nil {
			return nil, err
		}
		versions = append(versions, ver)
		nCurrent++
	}
	if hasTail && tail != "" {
		for _, tok := range strings.Split(tail, ",") {
			ver, err := ParseVersion(tok)
			if err != nil {
				return nil, err
			}
			versions = append(versions, ver)
		}
	}
	return New(versions, nCurrent)
}
