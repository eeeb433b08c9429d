package version

import (
	"testing"

	"github.com/adred-codev/blip/internal/hlc"
)

func mustParseASCII(t *testing.T, s string) *VersionVector {
	t.Helper()
	vv, err := ParseASCII(s)
	if err != nil {
		t.Fatalf("ParseASCII(%q): %v", s, err)
	}
	return vv
}

func TestMergedWithReconcilesDivergentHistories(t *testing.T) {
	v1 := mustParseASCII(t, "19@jens,3@eve,1@bob")
	v2 := mustParseASCII(t, "2@bob,18@jens,3@eve")

	if got, want := v1.MergedWith(v2).String(), "19@jens,2@bob,3@eve"; got != want {
		t.Fatalf("v1.MergedWith(v2) = %q, want %q", got, want)
	}
	if got, want := v2.MergedWith(v1).String(), "2@bob,19@jens,3@eve"; got != want {
		t.Fatalf("v2.MergedWith(v1) = %q, want %q", got, want)
	}
}

func TestCompareUnknownSourcesConflict(t *testing.T) {
	a := mustParseASCII(t, "1@*")
	b := mustParseASCII(t, "1@binky")

	if got := a.Compare(b); got != Conflicting {
		t.Fatalf("Compare(1@*, 1@binky) = %v, want Conflicting", got)
	}
	if got := b.Compare(a); got != Conflicting {
		t.Fatalf("Compare(1@binky, 1@*) = %v, want Conflicting", got)
	}
}

func TestCompareSameVector(t *testing.T) {
	a := mustParseASCII(t, "5@jens,3@eve")
	b := mustParseASCII(t, "5@jens,1@bob")
	if got := a.Compare(b); got != Same {
		t.Fatalf("Compare with identical current = %v, want Same", got)
	}
}

func TestCompareNewerOlder(t *testing.T) {
	older := mustParseASCII(t, "5@jens")
	newer := mustParseASCII(t, "9@jens,5@eve")

	if got := newer.Compare(older); got != Newer {
		t.Fatalf("Compare(newer, older) = %v, want Newer", got)
	}
	if got := older.Compare(newer); got != Older {
		t.Fatalf("Compare(older, newer) = %v, want Older", got)
	}
}

func TestCompareIsAntisymmetric(t *testing.T) {
	vectors := []string{
		"5@jens,3@eve", "9@jens,5@eve", "1@*", "1@binky", "5@jens,1@bob", "3@eve,5@jens",
	}
	for _, sa := range vectors {
		for _, sb := range vectors {
			a, b := mustParseASCII(t, sa), mustParseASCII(t, sb)
			ab := a.Compare(b)
			ba := b.Compare(a)
			switch ab {
			case Same:
				if ba != Same {
					t.Fatalf("Compare(%q,%q)=Same but reverse=%v", sa, sb, ba)
				}
			case Newer:
				if ba != Older {
					t.Fatalf("Compare(%q,%q)=Newer but reverse=%v, want Older", sa, sb, ba)
				}
			case Older:
				if ba != Newer {
					t.Fatalf("Compare(%q,%q)=Older but reverse=%v, want Newer", sa, sb, ba)
				}
			case Conflicting:
				if ba != Conflicting {
					t.Fatalf("Compare(%q,%q)=Conflicting but reverse=%v", sa, sb, ba)
				}
			}
		}
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	cases := []string{
		"19@jens,3@eve,1@bob",
		"1@*",
		"1@binky",
		"42@*,7@jens;3@eve,1@bob",
	}
	for _, s := range cases {
		vv := mustParseASCII(t, s)
		if got := vv.String(); got != s {
			t.Fatalf("round trip %q: got %q", s, got)
		}
	}
}

func TestMergeProducesNewCurrentWithMergeSeparator(t *testing.T) {
	clock := hlc.New(hlc.WithSource(hlc.NewFakeSource(0x176c9a6fd6900000, 1<<16)))
	a := mustParseASCII(t, "19@jens,3@eve")
	b := mustParseASCII(t, "2@bob,18@jens")

	merged := Merge(a, b, clock)
	if merged.NCurrent() != 3 {
		t.Fatalf("Merge NCurrent = %d, want 3 (new head + 2 parents)", merged.NCurrent())
	}
	if got := merged.Current().Source; !got.IsMe() {
		t.Fatalf("Merge current source = %v, want Me", got)
	}
	if got := merged.Compare(a); got != Newer {
		t.Fatalf("merged.Compare(a) = %v, want Newer", got)
	}
	if got := merged.Compare(b); got != Newer {
		t.Fatalf("merged.Compare(b) = %v, want Newer", got)
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	full := mustParseASCII(t, "19@jens,3@eve,1@bob")
	partial := mustParseASCII(t, "3@eve,1@bob")

	delta := full.DeltaFrom(partial)
	if len(delta) != 1 || delta[0].Source != full.versions[0].Source {
		t.Fatalf("DeltaFrom returned %v, want just the jens entry", delta)
	}

	rebuilt := partial.ByApplyingDelta(delta)
	if rebuilt.Compare(full) != Same {
		t.Fatalf("ByApplyingDelta(DeltaFrom) did not reconstruct the original vector: %v", rebuilt)
	}
}

func TestCanonicalizeRoundTrip(t *testing.T) {
	me := SourceID{1, 2, 3}
	vv := mustParseASCII(t, "5@*,3@eve")
	if err := vv.Canonicalize(me); err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if vv.TimeOf(Me) != hlc.None {
		t.Fatalf("Canonicalize left a Me entry behind")
	}
	if err := vv.CompactMyPeerID(me); err != nil {
		t.Fatalf("CompactMyPeerID: %v", err)
	}
	if got, want := vv.String(), "5@*,3@eve"; got != want {
		t.Fatalf("round trip through Canonicalize/CompactMyPeerID = %q, want %q", got, want)
	}
}
