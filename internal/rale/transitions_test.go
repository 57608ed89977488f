package rale

import (
	"testing"
	"time"
)

type fakePersister struct {
	term     uint32
	votedFor int32
	leaderID int32
	calls    int
}

func (f *fakePersister) UpdateTermAndVote(term uint32, votedFor int32) error {
	f.term = term
	f.votedFor = votedFor
	f.calls++
	return nil
}

func (f *fakePersister) UpdateLeader(term uint32, leaderID int32) error {
	f.term = term
	f.leaderID = leaderID
	return nil
}

type fakeBroadcaster struct {
	sent []Message
}

func (f *fakeBroadcaster) BroadcastRale(msg Message) {
	f.sent = append(f.sent, msg)
}

func TestTickStartsElectionAfterTimeout(t *testing.T) {
	m := NewMachine(1, 3, 0, 1*time.Millisecond)
	m.lastHeartbeat = time.Now().Add(-10 * time.Millisecond)

	p := &fakePersister{}
	b := &fakeBroadcaster{}
	m.Tick(p, b, nil)

	if m.GetRole() != RoleCandidate {
		t.Errorf("expected candidate after election timeout, got %v", m.GetRole())
	}
	if m.GetCurrentTerm() != 1 {
		t.Errorf("expected term bumped to 1, got %d", m.GetCurrentTerm())
	}
	if len(b.sent) != 1 || b.sent[0].Type != MsgVoteRequest {
		t.Errorf("expected one VOTE_REQUEST broadcast, got %+v", b.sent)
	}
}

func TestHandleVoteRequestGrantsWhenUnvoted(t *testing.T) {
	m := NewMachine(2, 3, time.Second, time.Hour)
	p := &fakePersister{}

	reply, ok := m.HandleVoteRequest(Message{Type: MsgVoteRequest, CandidateID: 1, Term: 1}, p)
	if !ok || reply.Type != MsgVoteGranted {
		t.Fatalf("expected a grant, got %+v ok=%v", reply, ok)
	}
	if m.GetVotedFor() != 1 {
		t.Errorf("expected votedFor=1, got %d", m.GetVotedFor())
	}
}

func TestHandleVoteRequestDeniesStaleTerm(t *testing.T) {
	m := NewMachine(2, 3, time.Second, time.Hour)
	m.LoadPersisted(5, -1, -1)

	reply, ok := m.HandleVoteRequest(Message{Type: MsgVoteRequest, CandidateID: 1, Term: 2}, &fakePersister{})
	if !ok || reply.Type != MsgVoteDenied {
		t.Fatalf("expected a denial for a stale term, got %+v ok=%v", reply, ok)
	}
}

func TestHandleVoteRequestRefusesSecondCandidateSameTerm(t *testing.T) {
	m := NewMachine(2, 3, time.Second, time.Hour)
	p := &fakePersister{}
	m.HandleVoteRequest(Message{Type: MsgVoteRequest, CandidateID: 1, Term: 1}, p)

	_, ok := m.HandleVoteRequest(Message{Type: MsgVoteRequest, CandidateID: 3, Term: 1}, p)
	if ok {
		t.Error("expected the second candidate's request to be silently dropped")
	}
}

func TestHandleVoteGrantedReachesQuorumAndElectsLeader(t *testing.T) {
	m := NewMachine(1, 3, time.Second, time.Hour)
	p := &fakePersister{}
	b := &fakeBroadcaster{}
	m.startElection(p, b)

	var electedTerm uint32
	var electedLeader int32
	onElected := func(term uint32, leaderID int32) {
		electedTerm, electedLeader = term, leaderID
	}

	m.HandleVoteGranted(Message{Type: MsgVoteGranted, VoterID: 2, Term: m.GetCurrentTerm()}, p, b, onElected)

	if m.GetRole() != RoleLeader {
		t.Fatalf("expected leader after quorum reached, got %v", m.GetRole())
	}
	if electedLeader != 1 || electedTerm != m.GetCurrentTerm() {
		t.Errorf("expected onElected(term=%d, leader=1), got term=%d leader=%d", m.GetCurrentTerm(), electedTerm, electedLeader)
	}
}

func TestHandleVoteGrantedIgnoresFutureTerm(t *testing.T) {
	m := NewMachine(1, 3, time.Second, time.Hour)
	p := &fakePersister{}
	b := &fakeBroadcaster{}
	m.startElection(p, b)
	currentTerm := m.GetCurrentTerm()

	m.HandleVoteGranted(Message{Type: MsgVoteGranted, VoterID: 2, Term: currentTerm + 1}, p, b, nil)
	if m.GetRole() == RoleLeader {
		t.Error("expected a grant from a future term to be ignored, not to elect")
	}
}

func TestHandleHeartbeatAdoptsLeaderAndHigherTerm(t *testing.T) {
	m := NewMachine(2, 3, time.Second, time.Hour)
	p := &fakePersister{}

	reply := m.HandleHeartbeat(Message{Type: MsgHeartbeat, LeaderID: 1, Term: 3}, p)
	if reply.Type != MsgHeartbeatAck {
		t.Errorf("expected HEARTBEAT_ACK reply, got %+v", reply)
	}
	if m.GetRole() != RoleFollower {
		t.Errorf("expected follower after accepting a heartbeat, got %v", m.GetRole())
	}
	if m.GetLeaderID() != 1 || m.GetCurrentTerm() != 3 {
		t.Errorf("expected leaderID=1 term=3, got leaderID=%d term=%d", m.GetLeaderID(), m.GetCurrentTerm())
	}
	if p.leaderID != 1 {
		t.Errorf("expected the discovered leader to be persisted, got leaderID=%d", p.leaderID)
	}
}

func TestHandleVoteRequestPersistsLeaderResetOnHigherTerm(t *testing.T) {
	m := NewMachine(2, 3, time.Second, time.Hour)
	m.leaderID = 7 // this node previously believed node 7 was leader
	p := &fakePersister{}

	m.HandleVoteRequest(Message{Type: MsgVoteRequest, CandidateID: 1, Term: 5}, p)

	if m.GetLeaderID() != -1 {
		t.Errorf("expected leaderID reset to -1 on higher-term adoption, got %d", m.GetLeaderID())
	}
	if p.leaderID != -1 || p.term != 5 {
		t.Errorf("expected the leader reset to be persisted as term=5 leaderID=-1, got term=%d leaderID=%d", p.term, p.leaderID)
	}
}
