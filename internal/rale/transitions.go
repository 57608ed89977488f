package rale

import "time"

// Persister is the subset of *statestore.RaleStateFile the state
// machine needs; declared here (not imported) so internal/rale has no
// dependency on internal/statestore: the persistent state store
// exclusively owns the file handle.
type Persister interface {
	UpdateTermAndVote(term uint32, votedFor int32) error
	UpdateLeader(term uint32, leaderID int32) error
}

// Broadcaster sends an encoded RALE message to every non-self peer.
type Broadcaster interface {
	BroadcastRale(msg Message)
}

// ElectionWon is invoked once, synchronously, the tick a quorum of
// votes is reached.
type ElectionWon func(term uint32, leaderID int32)

// Follower duty: if the election timeout has elapsed since the last
// heartbeat, become a candidate and start an election.
func (m *Machine) Tick(persist Persister, bc Broadcaster, onElected ElectionWon) {
	m.mu.Lock()
	role := m.role
	elapsed := time.Since(m.lastHeartbeat)
	timeout := m.electionTimeout
	m.mu.Unlock()

	switch role {
	case RoleFollower:
		if elapsed > timeout {
			m.startElection(persist, bc)
		}
	case RoleCandidate:
		m.mu.Lock()
		deadlinePassed := time.Now().After(m.electionDeadline)
		lastReq := m.nextVoteRequestAt
		m.mu.Unlock()
		if deadlinePassed {
			m.startElection(persist, bc)
		} else if time.Now().After(lastReq) {
			m.rebroadcastVoteRequest(bc)
		}
	case RoleLeader:
		m.mu.Lock()
		due := time.Now().After(m.nextHeartbeatAt)
		m.mu.Unlock()
		if due {
			m.sendHeartbeat(bc)
		}
	}
}

func (m *Machine) startElection(persist Persister, bc Broadcaster) {
	m.mu.Lock()
	m.currentTerm++
	m.votedFor = m.selfID
	m.votesReceived = 1
	m.electionActive = true
	m.role = RoleCandidate
	m.electionDeadline = m.randomDeadline()
	m.nextVoteRequestAt = time.Now().Add(time.Second)
	term := m.currentTerm
	self := m.selfID
	m.mu.Unlock()

	if persist != nil {
		_ = persist.UpdateTermAndVote(term, self)
	}
	if bc != nil {
		bc.BroadcastRale(Message{Type: MsgVoteRequest, CandidateID: self, Term: term})
	}
}

func (m *Machine) rebroadcastVoteRequest(bc Broadcaster) {
	m.mu.Lock()
	term := m.currentTerm
	self := m.selfID
	m.nextVoteRequestAt = time.Now().Add(time.Second)
	m.mu.Unlock()
	if bc != nil {
		bc.BroadcastRale(Message{Type: MsgVoteRequest, CandidateID: self, Term: term})
	}
}

func (m *Machine) sendHeartbeat(bc Broadcaster) {
	m.mu.Lock()
	term := m.currentTerm
	self := m.selfID
	m.nextHeartbeatAt = time.Now().Add(m.heartbeatInterval)
	m.mu.Unlock()
	if bc != nil {
		bc.BroadcastRale(Message{Type: MsgHeartbeat, LeaderID: self, Term: term})
	}
}

// HandleVoteRequest handles an incoming VOTE_REQUEST. It
// returns the reply message to send back to the candidate, or the
// zero Message with ok=false if the request should be silently
// dropped.
func (m *Machine) HandleVoteRequest(msg Message, persist Persister) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Term < m.currentTerm {
		return Message{Type: MsgVoteDenied, VoterID: m.selfID, Term: m.currentTerm}, true
	}
	if msg.Term > m.currentTerm {
		m.currentTerm = msg.Term
		m.votedFor = -1
		m.role = RoleFollower
		m.leaderID = -1
		if persist != nil {
			_ = persist.UpdateTermAndVote(m.currentTerm, m.votedFor)
			_ = persist.UpdateLeader(m.currentTerm, m.leaderID)
		}
	}

	if m.role != RoleLeader && (m.votedFor == -1 || m.votedFor == msg.CandidateID) {
		m.votedFor = msg.CandidateID
		m.electionDeadline = m.randomDeadline()
		if persist != nil {
			_ = persist.UpdateTermAndVote(m.currentTerm, m.votedFor)
		}
		return Message{Type: MsgVoteGranted, VoterID: m.selfID, Term: m.currentTerm}, true
	}
	return Message{}, false
}

// HandleVoteGranted handles an incoming VOTE_GRANTED.
// onElected fires synchronously if this grant reaches quorum.
func (m *Machine) HandleVoteGranted(msg Message, persist Persister, bc Broadcaster, onElected ElectionWon) {
	m.mu.Lock()
	if !m.electionActive || msg.Term > m.currentTerm {
		m.mu.Unlock()
		return
	}
	m.votesReceived++
	won := m.votesReceived > m.nodeCount/2
	var term uint32
	var self int32
	if won {
		m.role = RoleLeader
		m.leaderID = m.selfID
		m.electionActive = false
		term = m.currentTerm
		self = m.selfID
		m.nextHeartbeatAt = time.Time{}
	}
	m.mu.Unlock()

	if !won {
		return
	}
	if persist != nil {
		_ = persist.UpdateTermAndVote(term, self)
	}
	if onElected != nil {
		onElected(term, self)
	}
	m.sendHeartbeat(bc)
}

// HandleHeartbeat handles an incoming HEARTBEAT; it
// always replies HEARTBEAT_ACK.
func (m *Machine) HandleHeartbeat(msg Message, persist Persister) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Term > m.currentTerm {
		m.currentTerm = msg.Term
		m.votedFor = -1
	}
	if msg.LeaderID >= 0 {
		m.role = RoleFollower
		m.leaderID = msg.LeaderID
		m.electionDeadline = m.randomDeadline()
		m.lastHeartbeat = time.Now()
		if persist != nil {
			_ = persist.UpdateTermAndVote(m.currentTerm, m.votedFor)
			_ = persist.UpdateLeader(m.currentTerm, m.leaderID)
		}
	}
	return Message{Type: MsgHeartbeatAck}
}

// HandleHeartbeatAck currently only needs to exist for completeness
// of the message grammar; RALE does not track per-peer ack state
// RALE tracks no per-peer ack state beyond the message itself.
func (m *Machine) HandleHeartbeatAck() {}
