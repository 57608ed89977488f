package control

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgElephant/rale/internal/dstore"
	"github.com/pgElephant/rale/internal/kv"
	"github.com/pgElephant/rale/internal/rale"
	"github.com/pgElephant/rale/internal/registry"
	"github.com/pgElephant/rale/internal/statestore"
)

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	dir := t.TempDir()
	raleFile := statestore.NewRaleStateFile(filepath.Join(dir, "rale.state"))
	journal, err := statestore.NewJournalFile(filepath.Join(dir, "rale.db"))
	if err != nil {
		t.Fatalf("NewJournalFile failed: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	reg := registry.New()
	reg.SetSelf(1)
	reg.Add(1, "self", "127.0.0.1", 7400, 7500)

	machine := rale.NewMachine(1, 1, time.Second, time.Hour)
	raleFile.UpdateLeader(0, 1)

	repl := dstore.NewReplicator(1, kv.New(), journal, raleFile, reg, time.Second, machine.GetCurrentTerm, machine.SetNodeCount)

	return Dependencies{Machine: machine, Replicator: repl, Registry: reg}
}

func TestDispatchPutGetRoundTrip(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}

	resp := s.dispatch("PUT foo bar")
	if resp.StatusCode != 200 {
		t.Fatalf("PUT failed: %+v", resp)
	}

	resp = s.dispatch("GET foo")
	if resp.StatusCode != 200 {
		t.Fatalf("GET failed: %+v", resp)
	}
	data, ok := resp.Data.(map[string]string)
	if !ok || data["value"] != "bar" {
		t.Errorf("expected value bar, got %+v", resp.Data)
	}
}

func TestDispatchGetMissingReturns404(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}
	resp := s.dispatch("GET missing")
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDispatchStatusAndList(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}

	resp := s.dispatch("STATUS")
	if resp.StatusCode != 200 {
		t.Fatalf("STATUS failed: %+v", resp)
	}

	resp = s.dispatch("LIST")
	if resp.StatusCode != 200 {
		t.Fatalf("LIST failed: %+v", resp)
	}
}

func TestDispatchAddRemove(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}

	resp := s.dispatch("ADD 2 node2 127.0.0.1 7401 7501")
	if resp.StatusCode != 200 {
		t.Fatalf("ADD failed: %+v", resp)
	}
	if _, ok := s.deps.Registry.GetByID(2); !ok {
		t.Fatal("expected node 2 to be present after ADD")
	}

	resp = s.dispatch("REMOVE 2")
	if resp.StatusCode != 200 {
		t.Fatalf("REMOVE failed: %+v", resp)
	}
	if _, ok := s.deps.Registry.GetByID(2); ok {
		t.Error("expected node 2 to be gone after REMOVE")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}
	resp := s.dispatch("BOGUS")
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for an unknown command, got %d", resp.StatusCode)
	}
}

func TestDispatchJSONCommand(t *testing.T) {
	s := &Server{deps: newTestDeps(t)}
	resp := s.dispatch(`{"command":"PUT","key":"k","value":"v"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("JSON PUT failed: %+v", resp)
	}
}

func TestServeOverUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raled.sock")
	srv, err := NewServer(path, newTestDeps(t))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("PUT a 1\n"))
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected status 200, got %+v", resp)
	}
	if resp.ID == "" {
		t.Error("expected a correlation id to be set")
	}
}
