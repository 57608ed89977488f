package kv

import "testing"

func TestTablePutGet(t *testing.T) {
	tbl := New()

	if err := tbl.Put([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	v, ok := tbl.Get([]byte("foo"))
	if !ok {
		t.Fatal("expected to find foo")
	}
	if string(v) != "bar" {
		t.Errorf("expected 'bar', got '%s'", string(v))
	}
}

func TestTablePutOverwrites(t *testing.T) {
	tbl := New()
	tbl.Put([]byte("foo"), []byte("bar"))
	tbl.Put([]byte("foo"), []byte("baz"))

	v, _ := tbl.Get([]byte("foo"))
	if string(v) != "baz" {
		t.Errorf("expected overwrite to 'baz', got '%s'", string(v))
	}
}

func TestTableDelete(t *testing.T) {
	tbl := New()
	tbl.Put([]byte("foo"), []byte("bar"))

	if !tbl.Delete([]byte("foo")) {
		t.Fatal("expected Delete to report found")
	}
	if _, ok := tbl.Get([]byte("foo")); ok {
		t.Error("expected foo to be gone after delete")
	}
	if tbl.Delete([]byte("foo")) {
		t.Error("expected second Delete to report not found")
	}
}

func TestTableRejectsOversizedKey(t *testing.T) {
	tbl := New()
	bigKey := make([]byte, MaxKeySize+1)
	if err := tbl.Put(bigKey, []byte("v")); err == nil {
		t.Error("expected oversized key to be rejected")
	}
}

func TestTableRejectsOversizedValue(t *testing.T) {
	tbl := New()
	bigVal := make([]byte, MaxValSize+1)
	if err := tbl.Put([]byte("k"), bigVal); err == nil {
		t.Error("expected oversized value to be rejected")
	}
}

func TestTableRejectsEmptyKey(t *testing.T) {
	tbl := New()
	if err := tbl.Put([]byte{}, []byte("v")); err == nil {
		t.Error("expected empty key to be rejected")
	}
}

func TestTableEntriesCoversChainedBucket(t *testing.T) {
	tbl := New()
	// Keys {j, 33} and {j+1, 0} share a bucket (djb2 differs only by
	// 33*a+b, equal for both), so several chains hold two entries.
	for i := 0; i < 50; i++ {
		key := []byte{byte(i / 2), byte(33 * (i % 2))}
		tbl.Put(key, []byte("v"))
	}
	entries := tbl.Entries()
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
}

func TestTableGetReturnsCopy(t *testing.T) {
	tbl := New()
	tbl.Put([]byte("k"), []byte("v"))
	v, _ := tbl.Get([]byte("k"))
	v[0] = 'x'
	v2, _ := tbl.Get([]byte("k"))
	if string(v2) != "v" {
		t.Error("mutating a returned value must not affect the stored copy")
	}
}
