package seqset

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint aggregates one side's view of replication progress: a pending
// SequenceSet for the push side, and an opaque remote cursor for the pull
// side. A freshly created Checkpoint is entirely pending: everything from
// sequence 1 on is assumed unsent until proven otherwise.
type Checkpoint struct {
	pending  *SequenceSet
	minSeq   Sequence // local_min_sequence: pending.First() - 1
	remote   json.RawMessage
	testMode bool // when true, TimeMillis is omitted from MarshalJSON
}

// NewCheckpoint returns a Checkpoint whose pending set is [1, ∞): nothing
// has been confirmed sent yet.
func NewCheckpoint() *Checkpoint {
	c := &Checkpoint{pending: New()}
	c.pending.AddRange(1, maxSequence)
	return c
}

// maxSequence stands in for "infinity": the open end of the initial
// all-pending range. Sequence is backed by uint64, so this is its max.
const maxSequence = Sequence(1<<64 - 1)

// LocalMinSequence is one less than the smallest still-pending sequence:
// everything at or below it has been confirmed sent.
func (c *Checkpoint) LocalMinSequence() Sequence {
	if c.pending.IsEmpty() {
		return c.minSeq
	}
	first := c.pending.First()
	if first == 0 {
		return 0
	}
	return first - 1
}

// IsSequencePending reports whether seq has not yet been confirmed sent.
func (c *Checkpoint) IsSequencePending(seq Sequence) bool {
	return c.pending.Contains(seq)
}

// AddPendingSequence marks seq as needing to be sent.
func (c *Checkpoint) AddPendingSequence(seq Sequence) {
	c.pending.Add(seq)
}

// CompletedSequence marks seq as confirmed sent, removing it from pending
// and advancing minSeq if it closes a gap at the front.
func (c *Checkpoint) CompletedSequence(seq Sequence) {
	c.pending.Remove(seq)
	c.advanceMinSeq()
}

// CompletedSequenceRange marks every sequence checked between firstChecked
// and lastChecked (inclusive) as done, except for revsStillPending, which
// remain (or become) pending. This is the bulk variant used after a batch
// revocation check: the whole range is cleared, then only the sequences the
// caller actually still needs to send are re-added.
func (c *Checkpoint) CompletedSequenceRange(firstChecked, lastChecked Sequence, revsStillPending []Sequence) {
	c.pending.RemoveRange(firstChecked, lastChecked+1)
	for _, seq := range revsStillPending {
		c.pending.Add(seq)
	}
	c.advanceMinSeq()
}

func (c *Checkpoint) advanceMinSeq() {
	if c.pending.IsEmpty() {
		return
	}
	if first := c.pending.First(); first > c.minSeq+1 {
		c.minSeq = first - 1
	}
}

// RemoteMinSequence returns the pull side's opaque cursor, or nil if none
// has been recorded.
func (c *Checkpoint) RemoteMinSequence() json.RawMessage { return c.remote }

// SetRemoteMinSequence records the pull side's opaque cursor, returning
// true iff it differs from the previously stored value.
func (c *Checkpoint) SetRemoteMinSequence(remote json.RawMessage) bool {
	if string(c.remote) == string(remote) {
		return false
	}
	c.remote = append(json.RawMessage(nil), remote...)
	return true
}

// SetTestMode controls whether MarshalJSON omits the "time" field, for
// deterministic test fixtures.
func (c *Checkpoint) SetTestMode(testMode bool) { c.testMode = testMode }

// ValidateWith reconciles c against other, mutating c in place: if their
// pending sets disagree, c's pending set resets to [1, ∞); if their remote
// cursors disagree, c's remote cursor is cleared. Returns true only if both
// sides already agreed (no mutation occurred).
func (c *Checkpoint) ValidateWith(other *Checkpoint) bool {
	pendingMatch := c.pending.String() == other.pending.String()
	remoteMatch := string(c.remote) == string(other.remote)
	if !pendingMatch {
		c.pending = New()
		c.pending.AddRange(1, maxSequence)
		c.minSeq = 0
	}
	if !remoteMatch {
		c.remote = nil
	}
	return pendingMatch && remoteMatch
}

type checkpointJSON struct {
	TimeMillis   *int64          `json:"time,omitempty"`
	Local        *uint64         `json:"local,omitempty"`
	LocalPending []uint64        `json:"localPending,omitempty"`
	Remote       json.RawMessage `json:"remote,omitempty"`
}

// nowMillisFunc is overridable so tests can avoid depending on wall-clock
// time while still exercising the non-test-mode marshal path.
var nowMillisFunc = func() int64 { return time.Now().UnixMilli() }

// MarshalJSON renders the checkpoint per the wire format: {"time", "local",
// "localPending", "remote"}, omitting "localPending" when the pending set
// is still the initial all-pending range, and "time" in test mode.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	out := checkpointJSON{Remote: c.remote}
	local := uint64(c.LocalMinSequence())
	out.Local = &local
	if !c.isInitialPending() {
		out.LocalPending = c.pending.Pairs()
	}
	if !c.testMode {
		t := nowMillisFunc()
		out.TimeMillis = &t
	}
	return json.Marshal(out)
}

func (c *Checkpoint) isInitialPending() bool {
	if c.pending.RangesCount() != 1 {
		return false
	}
	return c.pending.First() == c.minSeq+1 && c.pending.Last() == maxSequence-1
}

// UnmarshalJSON restores a Checkpoint from the wire format. A missing
// "localPending" reconstructs the set as [local+1, ∞).
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var in checkpointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("seqset: invalid checkpoint json: %w", err)
	}
	var minSeq Sequence
	if in.Local != nil {
		minSeq = Sequence(*in.Local)
	}
	var pending *SequenceSet
	if in.LocalPending != nil {
		p, err := FromPairs(in.LocalPending)
		if err != nil {
			return fmt.Errorf("seqset: invalid localPending: %w", err)
		}
		pending = p
	} else {
		pending = New()
		pending.AddRange(minSeq+1, maxSequence)
	}
	c.pending = pending
	c.minSeq = minSeq
	c.remote = append(json.RawMessage(nil), in.Remote...)
	return nil
}
