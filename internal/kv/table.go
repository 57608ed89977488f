// Package kv implements the chained hash table: 1024
// buckets, DJB2 hashing, single mutex over all mutations and the
// entire save/load operation. Grounded on pkg/kv/store.go for the
// locking discipline; the bucket-chain structure and binary save/load
// layout are new.
package kv

import (
	"fmt"
	"sync"

	"github.com/pgElephant/rale/internal/raleerr"
)

const (
	HashSize    = 1024
	MaxKeySize  = 255
	MaxValSize  = 1024
)

type entry struct {
	key   []byte
	value []byte
	next  *entry
}

// Table is the mutex-guarded chained hash table.
type Table struct {
	mu      sync.Mutex
	buckets [HashSize]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

func validateKey(key []byte) error {
	if len(key) == 0 || len(key) >= MaxKeySize {
		return raleerr.New(raleerr.KindValidation, "kv", "key length out of range").
			WithDetail(fmt.Sprintf("len=%d max=%d", len(key), MaxKeySize))
	}
	return nil
}

func validateValue(value []byte) error {
	if len(value) >= MaxValSize {
		return raleerr.New(raleerr.KindValidation, "kv", "value length out of range").
			WithDetail(fmt.Sprintf("len=%d max=%d", len(value), MaxValSize))
	}
	return nil
}

// Put overwrites an existing key's value, or prepends a new entry at
// the head of its bucket chain.
func (t *Table) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := djb2(key) % HashSize
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			e.value = append([]byte(nil), value...)
			return nil
		}
	}
	t.buckets[idx] = &entry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
		next:  t.buckets[idx],
	}
	return nil
}

// Get returns a copy of the stored value, if present.
func (t *Table) Get(key []byte) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := djb2(key) % HashSize
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			return append([]byte(nil), e.value...), true
		}
	}
	return nil, false
}

// Delete splices the matched entry out of its bucket chain. It
// reports whether a matching key was found.
func (t *Table) Delete(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := djb2(key) % HashSize
	var prev *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if string(e.key) == string(key) {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			return true
		}
		prev = e
	}
	return false
}

// Entries returns every (key, value) pair currently stored, in no
// particular order.
func (t *Table) Entries() [][2][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out [][2][]byte
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			out = append(out, [2][]byte{
				append([]byte(nil), e.key...),
				append([]byte(nil), e.value...),
			})
		}
	}
	return out
}
