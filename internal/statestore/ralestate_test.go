package statestore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRaleStateFileMissingReadsZeroValue(t *testing.T) {
	f := NewRaleStateFile(filepath.Join(t.TempDir(), "rale.state"))
	st, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if st.VotedFor != -1 || st.LeaderID != -1 || st.CurrentTerm != 0 {
		t.Errorf("expected zero-value state on first boot, got %+v", st)
	}
}

func TestRaleStateFileWriteReadRoundTrip(t *testing.T) {
	f := NewRaleStateFile(filepath.Join(t.TempDir(), "rale.state"))
	want := RaleState{CurrentTerm: 5, VotedFor: 3, LeaderID: 3, LastLogIndex: 10, LastLogTerm: 4}
	if err := f.Write(want); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestRaleStateFileUpdateTermAndVotePreservesLeader(t *testing.T) {
	f := NewRaleStateFile(filepath.Join(t.TempDir(), "rale.state"))
	f.Write(RaleState{CurrentTerm: 1, VotedFor: -1, LeaderID: 2, LastLogIndex: 7, LastLogTerm: 1})

	if err := f.UpdateTermAndVote(2, 5); err != nil {
		t.Fatalf("UpdateTermAndVote failed: %v", err)
	}
	got, _ := f.Read()
	if got.CurrentTerm != 2 || got.VotedFor != 5 {
		t.Errorf("expected term/vote updated, got %+v", got)
	}
	if got.LeaderID != 2 || got.LastLogIndex != 7 {
		t.Errorf("expected leader/log fields preserved, got %+v", got)
	}
}

func TestRaleStateFileUpdateLeaderPreservesVote(t *testing.T) {
	f := NewRaleStateFile(filepath.Join(t.TempDir(), "rale.state"))
	f.Write(RaleState{CurrentTerm: 1, VotedFor: 4, LeaderID: -1, LastLogIndex: 9, LastLogTerm: 1})

	if err := f.UpdateLeader(2, 4); err != nil {
		t.Fatalf("UpdateLeader failed: %v", err)
	}
	got, _ := f.Read()
	if got.LeaderID != 4 || got.CurrentTerm != 2 {
		t.Errorf("expected leader/term updated, got %+v", got)
	}
	if got.VotedFor != 4 || got.LastLogIndex != 9 {
		t.Errorf("expected vote/log fields preserved, got %+v", got)
	}
}

func TestRaleStateFileMalformedRecordIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rale.state")
	f := NewRaleStateFile(path)
	f.Write(RaleState{})

	// Corrupt it with a short record.
	if err := os.WriteFile(path, []byte("1 2 3\n"), 0644); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}
	if _, err := f.Read(); err == nil {
		t.Error("expected malformed record to be an error")
	}
}
