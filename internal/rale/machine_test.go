package rale

import (
	"testing"
	"time"
)

func TestNewMachineStartsAsFollower(t *testing.T) {
	m := NewMachine(1, 3, 0, 0)
	if m.GetRole() != RoleFollower {
		t.Errorf("expected initial role follower, got %v", m.GetRole())
	}
	if m.GetVotedFor() != -1 || m.GetLeaderID() != -1 {
		t.Errorf("expected votedFor/leaderID -1 on a fresh machine, got %d/%d", m.GetVotedFor(), m.GetLeaderID())
	}
}

func TestLoadPersistedSeedsFields(t *testing.T) {
	m := NewMachine(1, 3, 0, 0)
	m.LoadPersisted(5, 2, 2)
	if m.GetCurrentTerm() != 5 || m.GetVotedFor() != 2 || m.GetLeaderID() != 2 {
		t.Errorf("expected loaded fields to stick, got term=%d votedFor=%d leaderID=%d",
			m.GetCurrentTerm(), m.GetVotedFor(), m.GetLeaderID())
	}
}

func TestRandomDeadlineIsWithinOneToTwoTimeouts(t *testing.T) {
	m := NewMachine(1, 3, 0, 10*time.Millisecond)
	lo := time.Now().Add(10 * time.Millisecond)
	hi := time.Now().Add(20 * time.Millisecond)
	if m.electionDeadline.Before(lo) || m.electionDeadline.After(hi) {
		t.Errorf("expected deadline in [%v, %v], got %v", lo, hi, m.electionDeadline)
	}
}
