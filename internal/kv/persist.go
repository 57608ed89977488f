package kv

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pgElephant/rale/internal/raleerr"
)

// Save writes the binary dump layout: a 4-byte
// entry_count, then per entry a 4-byte key_len, key bytes, a 4-byte
// value_len, and value bytes. The mutex covers the entire operation.
func (t *Table) Save(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	defer f.Close()

	var count uint32
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			count++
		}
	}
	if err := binary.Write(f, binary.LittleEndian, count); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			if err := writeEntry(f, e.key, e.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(w io.Writer, key, value []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(key))); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	if _, err := w.Write(key); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(value))); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	if _, err := w.Write(value); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump write failed", err)
	}
	return nil
}

// Load replaces the table's contents with the binary dump at path.
func (t *Table) Load(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}
	defer f.Close()

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}

	for i := range t.buckets {
		t.buckets[i] = nil
	}

	for i := uint32(0); i < count; i++ {
		key, value, err := readEntry(f)
		if err != nil {
			return err
		}
		idx := djb2(key) % HashSize
		t.buckets[idx] = &entry{key: key, value: value, next: t.buckets[idx]}
	}
	return nil
}

func readEntry(r io.Reader) ([]byte, []byte, error) {
	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return nil, nil, raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}
	var valLen uint32
	if err := binary.Read(r, binary.LittleEndian, &valLen); err != nil {
		return nil, nil, raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}
	value := make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, nil, raleerr.Wrap(raleerr.KindStorage, "kv", "hash dump read failed", err)
	}
	return key, value, nil
}
