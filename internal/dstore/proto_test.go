package dstore

import "testing"

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{Type: MsgHello, NodeID: 1},
		{Type: MsgKeepAlive},
		{Type: MsgPut, Key: "k", Value: "v"},
		{Type: MsgForwardPut, Key: "k", Value: "v"},
		{Type: MsgGet, Key: "k"},
		{Type: MsgValue, Key: "k", Value: "v"},
		{Type: MsgNotFound, Key: "k"},
		{Type: MsgDelete, Key: "k"},
		{Type: MsgForwardDelete, Key: "k"},
		{Type: MsgPropagateAdd, NodeID: 2, Name: "n2", IP: "127.0.0.1", RalePort: 7400, DStorePort: 7500},
		{Type: MsgPropagateRemove, NodeID: 2},
		{Type: MsgLeader, Term: 4, LeaderID: 1},
		{Type: MsgLeaderElected, Term: 4, LeaderID: 1},
	}
	for _, want := range cases {
		encoded := want.Encode()
		got, err := ParseMessage(encoded)
		if err != nil {
			t.Fatalf("ParseMessage(%q) failed: %v", encoded, err)
		}
		if got != want {
			t.Errorf("round trip mismatch for %q: want %+v, got %+v", encoded, want, got)
		}
	}
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"HELLO abc",
		"PUT novalue",
		"GET",
		"PROPAGATE_ADD 1 n 127.0.0.1 notaport 7500",
		"PROPAGATE_ADD 1 n 127.0.0.1 7400",
		"LEADER 1",
		"NONSENSE 1 2 3",
	}
	for _, raw := range cases {
		if _, err := ParseMessage(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestFitsMessageBudget(t *testing.T) {
	if !FitsMessageBudget("short", "value") {
		t.Error("expected a small key/value pair to fit the budget")
	}
	oversizedValue := make([]byte, 2048)
	if FitsMessageBudget("key", string(oversizedValue)) {
		t.Error("expected an oversized value to exceed the budget")
	}
}
