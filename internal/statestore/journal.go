package statestore

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/pgElephant/rale/internal/raleerr"
)

// JournalFile owns rale.db, the append-only key=value replication
// journal. It never rewrites in place; the file
// grows monotonically and Replay reconstructs the last-write-wins map.
type JournalFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJournalFile opens (creating if needed) rale.db for append.
func NewJournalFile(path string) (*JournalFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.db open failed", err)
	}
	return &JournalFile{path: path, f: f}, nil
}

// Append writes one key=value line.
func (j *JournalFile) Append(key, value string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.f.WriteString(key + "=" + value + "\n")
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.db append failed", err)
	}
	return j.f.Sync()
}

// Replay reads every line in order and returns the reconstructed
// last-write-wins map.
func (j *JournalFile) Replay() (map[string]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.db read failed", err)
	}
	defer f.Close()

	out := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		out[line[:idx]] = line[idx+1:]
	}
	return out, nil
}

// Close closes the underlying file handle.
func (j *JournalFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}
