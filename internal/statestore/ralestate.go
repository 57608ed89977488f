// Package statestore implements the two small on-disk files RALE and
// DStore share: rale.state (persisted term/vote/leader record) and
// rale.db (append-only KV journal). Both are single-writer types:
// one instance owns the file handle and its mutex serializes every
// writer, which is how concurrent rale.state updates from two write
// paths are kept consistent (see DESIGN.md).
package statestore

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pgElephant/rale/internal/raleerr"
)

// RaleState is the five-field persisted record.
type RaleState struct {
	CurrentTerm  uint32
	VotedFor     int32
	LeaderID     int32
	LastLogIndex uint64
	LastLogTerm  uint32
}

// RaleStateFile owns rale.state. All reads and writes go through its
// mutex so that role-transition persists and DStore's LEADER/
// LEADER_ELECTED snapshot updates never interleave.
type RaleStateFile struct {
	mu   sync.Mutex
	path string
}

// NewRaleStateFile returns a handle over the given path. The file
// itself is created lazily on first Write; a missing file reads as the
// zero-value state (current_term=0, voted_for=-1, leader_id=-1).
func NewRaleStateFile(path string) *RaleStateFile {
	return &RaleStateFile{path: path}
}

// Read loads the current persisted state. A missing file is not an
// error: it means first boot.
func (s *RaleStateFile) Read() (RaleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *RaleStateFile) readLocked() (RaleState, error) {
	zero := RaleState{VotedFor: -1, LeaderID: -1}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return zero, nil
	}
	if err != nil {
		return zero, raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.state open failed", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return zero, nil
	}
	fields := strings.Fields(sc.Text())
	if len(fields) != 5 {
		return zero, raleerr.New(raleerr.KindStorage, "statestore", "rale.state malformed record").
			WithDetail(fmt.Sprintf("fields=%d", len(fields)))
	}

	parse := func(s string) int64 {
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	return RaleState{
		CurrentTerm:  uint32(parse(fields[0])),
		VotedFor:     int32(parse(fields[1])),
		LeaderID:     int32(parse(fields[2])),
		LastLogIndex: uint64(parse(fields[3])),
		LastLogTerm:  uint32(parse(fields[4])),
	}, nil
}

// Write truncate-writes the full five-field record.
func (s *RaleStateFile) Write(st RaleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(st)
}

func (s *RaleStateFile) writeLocked(st RaleState) error {
	f, err := os.Create(s.path)
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.state write failed", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "%d %d %d %d %d\n",
		st.CurrentTerm, st.VotedFor, st.LeaderID, st.LastLogIndex, st.LastLogTerm)
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "statestore", "rale.state write failed", err)
	}
	return nil
}

// UpdateTermAndVote preserves LeaderID/LastLog* and rewrites only
// CurrentTerm/VotedFor — used by RALE's own role transitions.
func (s *RaleStateFile) UpdateTermAndVote(term uint32, votedFor int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.readLocked()
	if err != nil {
		return err
	}
	cur.CurrentTerm = term
	cur.VotedFor = votedFor
	return s.writeLocked(cur)
}

// UpdateLeader preserves VotedFor/LastLog* and rewrites only
// CurrentTerm/LeaderID — used by DStore's LEADER/LEADER_ELECTED
// handling.
func (s *RaleStateFile) UpdateLeader(term uint32, leaderID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.readLocked()
	if err != nil {
		return err
	}
	cur.CurrentTerm = term
	cur.LeaderID = leaderID
	return s.writeLocked(cur)
}
