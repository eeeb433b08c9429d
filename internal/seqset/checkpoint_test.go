package seqset

import (
	"encoding/json"
	"testing"
)

func TestCheckpointJSONRoundTrip(t *testing.T) {
	src := `{"local":0,"localPending":[1,1,4,1,7,3],"remote":"abc"}`

	var c Checkpoint
	if err := json.Unmarshal([]byte(src), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	c.SetTestMode(true)

	if got, want := c.pending.String(), "[1, 4, 7-9]"; got != want {
		t.Fatalf("pending set = %q, want %q", got, want)
	}
	if got := string(c.RemoteMinSequence()); got != `"abc"` {
		t.Fatalf("remote = %s, want %q", got, `"abc"`)
	}

	out, err := json.Marshal(&c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var roundTrip map[string]any
	if err := json.Unmarshal(out, &roundTrip); err != nil {
		t.Fatalf("Unmarshal(marshaled): %v", err)
	}
	if _, hasTime := roundTrip["time"]; hasTime {
		t.Fatalf("marshal in test mode should omit \"time\", got %s", out)
	}
	if roundTrip["remote"] != "abc" {
		t.Fatalf("remote round trip = %v, want \"abc\"", roundTrip["remote"])
	}
	gotPending, ok := roundTrip["localPending"].([]any)
	if !ok {
		t.Fatalf("localPending missing or wrong type in %s", out)
	}
	wantPending := []float64{1, 1, 4, 1, 7, 3}
	if len(gotPending) != len(wantPending) {
		t.Fatalf("localPending = %v, want %v", gotPending, wantPending)
	}
	for i, w := range wantPending {
		if gotPending[i].(float64) != w {
			t.Fatalf("localPending = %v, want %v", gotPending, wantPending)
		}
	}
}

func TestCheckpointInitialStateOmitsLocalPending(t *testing.T) {
	c := NewCheckpoint()
	c.SetTestMode(true)

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(out, &roundTrip); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := roundTrip["localPending"]; present {
		t.Fatalf("initial checkpoint should omit localPending, got %s", out)
	}
	if roundTrip["local"] != float64(0) {
		t.Fatalf("initial local = %v, want 0", roundTrip["local"])
	}
}

func TestCheckpointCompletedSequence(t *testing.T) {
	c := NewCheckpoint()
	if !c.IsSequencePending(5) {
		t.Fatalf("fresh checkpoint should consider every sequence pending")
	}
	c.CompletedSequence(1)
	if c.LocalMinSequence() != 1 {
		t.Fatalf("LocalMinSequence after completing 1 = %d, want 1", c.LocalMinSequence())
	}
	if c.IsSequencePending(1) {
		t.Fatalf("sequence 1 still pending after CompletedSequence(1)")
	}
}

func TestCheckpointSetRemoteMinSequenceReportsChange(t *testing.T) {
	c := NewCheckpoint()
	if !c.SetRemoteMinSequence(json.RawMessage(`"x"`)) {
		t.Fatalf("first SetRemoteMinSequence should report a change")
	}
	if c.SetRemoteMinSequence(json.RawMessage(`"x"`)) {
		t.Fatalf("repeated SetRemoteMinSequence with same value should report no change")
	}
	if !c.SetRemoteMinSequence(json.RawMessage(`"y"`)) {
		t.Fatalf("SetRemoteMinSequence with a new value should report a change")
	}
}

func TestCheckpointValidateWith(t *testing.T) {
	a := NewCheckpoint()
	a.CompletedSequence(1)
	a.SetRemoteMinSequence(json.RawMessage(`"r1"`))

	b := NewCheckpoint()
	b.SetRemoteMinSequence(json.RawMessage(`"r2"`))

	if a.ValidateWith(b) {
		t.Fatalf("ValidateWith should report disagreement")
	}
	if a.LocalMinSequence() != 0 {
		t.Fatalf("disagreeing pending sets should reset local min sequence to 0, got %d", a.LocalMinSequence())
	}
	if a.RemoteMinSequence() != nil {
		t.Fatalf("disagreeing remote cursors should clear, got %s", a.RemoteMinSequence())
	}
}
