package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func sampleView() View {
	return View{
		"a": {Pos: Vec{1, 2}, Rot: Rot{Yaw: 0.5}, Health: 100, State: StateAlive, Team: 0},
		"b": {Pos: Vec{5, 5}, Vel: Vec{1, 0}, Health: 70, Weapon: 1, State: StateAlive, Team: 1},
	}
}

func TestDiffApplyRoundTrip(t *testing.T) {
	base := sampleView()
	cur := base.Clone()
	b := cur["b"]
	b.Health = 0
	b.State = StateDead
	cur["b"] = b
	delete(cur, "a")
	cur["c"] = PlayerView{Pos: Vec{9, 9}, Health: 100, State: StateAlive, Team: 1}

	players, removed := Diff(base, cur)
	got := base.Apply(GameState{Tick: 2, Baseline: 1, Players: players, Removed: removed})
	if !got.Equal(cur) {
		t.Fatalf("apply(diff) = %+v, want %+v", got, cur)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("removed = %v", removed)
	}
	for _, d := range players {
		if d.ID == "b" && (d.Pos != nil || d.Health == nil || d.State == nil) {
			t.Fatalf("delta for b should only carry changed fields: %+v", d)
		}
	}
}

func TestDiffOfUnchangedViewIsEmpty(t *testing.T) {
	v := sampleView()
	players, removed := Diff(v, v.Clone())
	if len(players) != 0 || len(removed) != 0 {
		t.Fatalf("players=%v removed=%v", players, removed)
	}
}

func TestFullSnapshotReplacesLocalState(t *testing.T) {
	stale := View{"ghost": {Health: 1}}
	cur := sampleView()
	got := stale.Apply(GameState{Tick: 5, Full: true, Players: Full(cur)})
	if !got.Equal(cur) {
		t.Fatalf("full apply = %+v", got)
	}
	if _, ok := stale["ghost"]; !ok {
		t.Fatalf("apply mutated receiver")
	}
}

func TestRingOverwritesOldTicks(t *testing.T) {
	r := NewRing[int](4)
	for tick := uint64(1); tick <= 6; tick++ {
		r.Put(tick, int(tick)*10)
	}
	if _, ok := r.Get(1); ok {
		t.Fatalf("tick 1 should have been evicted")
	}
	if v, ok := r.Get(6); !ok || v != 60 {
		t.Fatalf("Get(6) = %d, %v", v, ok)
	}
	if r.Len() != 4 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestJSONEnvelope(t *testing.T) {
	b, err := Encode(MsgAck, Ack{Tick: 42})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"t":"ack"`) {
		t.Fatalf("frame = %s", b)
	}
	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatal(err)
	}
	ack, err := DecodePayload[Ack](env)
	if err != nil || ack.Tick != 42 {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}
	if _, err := DecodeEnvelope([]byte(`{"p":{}}`)); err == nil {
		t.Fatalf("missing type accepted")
	}
	if _, err := DecodeEnvelope(nil); err == nil {
		t.Fatalf("empty frame accepted")
	}
}

func TestCodecsCarrySameMessage(t *testing.T) {
	health := 55
	state := "alive"
	msg := GameState{
		Tick:               9,
		Baseline:           8,
		LastProcessedInput: map[string]uint32{"a": 3},
		Players:            []PlayerDelta{{ID: "a", Health: &health, State: &state}},
		Events:             []Event{{Kind: "hit", Tick: 9, Actor: "b", Target: "a", Damage: 45}},
	}
	for _, name := range []string{"json", "msgpack"} {
		for _, compress := range []bool{false, true} {
			c, err := NewCodec(name, compress)
			if err != nil {
				t.Fatal(err)
			}
			b, err := c.Encode(MsgGameState, msg)
			if err != nil {
				t.Fatalf("%s: %v", c.Name(), err)
			}
			typ, raw, err := c.Decode(b)
			if err != nil || typ != MsgGameState {
				t.Fatalf("%s: type=%q err=%v", c.Name(), typ, err)
			}
			got, err := Read[GameState](c, typ, raw)
			if err != nil {
				t.Fatalf("%s: %v", c.Name(), err)
			}
			if got.Tick != 9 || got.LastProcessedInput["a"] != 3 || *got.Players[0].Health != 55 || got.Players[0].Pos != nil {
				t.Fatalf("%s: decoded %+v", c.Name(), got)
			}
			if len(got.Events) != 1 || got.Events[0].Damage != 45 {
				t.Fatalf("%s: events %+v", c.Name(), got.Events)
			}
		}
	}
	if _, err := NewCodec("xml", false); err == nil {
		t.Fatalf("unknown codec accepted")
	}
}

func TestCompressedFrameSizeIsBounded(t *testing.T) {
	bomb, err := compressLZ4(make([]byte, MaxDecompressed+1024))
	if err != nil {
		t.Fatal(err)
	}
	if len(bomb) >= 64<<10 {
		t.Fatalf("compressed size %d does not fit one inbound frame", len(bomb))
	}
	c := MsgpackCodec{Compress: true}
	if _, _, err := c.Decode(bomb); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized frame: %v", err)
	}

	fits := bytes.Repeat([]byte{7}, MaxDecompressed)
	packed, err := compressLZ4(fits)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decompressLZ4(packed)
	if err != nil || len(out) != MaxDecompressed {
		t.Fatalf("frame at the limit: len=%d err=%v", len(out), err)
	}
}

func TestSchemaListsMessages(t *testing.T) {
	b, err := json.Marshal(Schema())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"GameState", "PlayerDelta", "lastProcessedInput"} {
		if !strings.Contains(string(b), name) {
			t.Fatalf("schema missing %s", name)
		}
	}
}
