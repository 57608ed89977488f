package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryPersistAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.state")

	r := New()
	r.SetStateFile(path)
	r.SetSelf(1)
	r.Add(1, "node1", "127.0.0.1", 7400, 7500)
	r.Add(2, "node2", "127.0.0.1", 7401, 7501)

	loaded := New()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("expected 2 nodes after reload, got %d", loaded.Count())
	}
	if loaded.GetSelf() != 1 {
		t.Errorf("expected self id 1, got %d", loaded.GetSelf())
	}
	n, ok := loaded.GetByID(2)
	if !ok || n.Name != "node2" || n.RalePort != 7401 {
		t.Errorf("unexpected reloaded node: %+v ok=%v", n, ok)
	}
}

func TestRegistryLoadMissingFileIsNotError(t *testing.T) {
	r := New()
	if err := r.Load(filepath.Join(t.TempDir(), "missing.state")); err != nil {
		t.Errorf("expected missing cluster.state to be tolerated, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry on first boot, got count %d", r.Count())
	}
}

func TestRegistryLoadMalformedCountResetsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.state")
	if err := os.WriteFile(path, []byte("self_id=1\nnode_count=notanumber\n"), 0644); err != nil {
		t.Fatalf("failed to write fixture file: %v", err)
	}

	r := New()
	if err := r.Load(path); err != nil {
		t.Fatalf("Load should tolerate malformed node_count, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("expected reset to empty registry, got count %d", r.Count())
	}
}
