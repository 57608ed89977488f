package rale

import (
	"math/rand"
	"os"
	"sync"
	"time"
)

// Role is one of the four RALE roles.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RoleTransitioning
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RoleTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Machine is the mutex-guarded RALE state, grounded on
// pkg/raft/state.go's NodeState: one getter/setter per field, trimmed
// of the nextIndex/matchIndex log-replication bookkeeping that full
// Raft log matching would need.
type Machine struct {
	mu sync.Mutex

	selfID    int32
	nodeCount int

	role        Role
	currentTerm uint32
	votedFor    int32
	leaderID    int32

	lastHeartbeat      time.Time
	electionDeadline   time.Time
	votesReceived      int
	electionActive     bool
	nextHeartbeatAt    time.Time
	nextVoteRequestAt  time.Time

	heartbeatInterval time.Duration
	electionTimeout   time.Duration

	rng *rand.Rand
}

// NewMachine returns a Machine starting in the follower role.
// heartbeatInterval/electionTimeout default to 1s/5s if zero.
func NewMachine(selfID int32, nodeCount int, heartbeatInterval, electionTimeout time.Duration) *Machine {
	if heartbeatInterval <= 0 {
		heartbeatInterval = time.Second
	}
	if electionTimeout <= 0 {
		electionTimeout = 5 * time.Second
	}
	m := &Machine{
		selfID:            selfID,
		nodeCount:         nodeCount,
		role:              RoleFollower,
		votedFor:          -1,
		leaderID:          -1,
		heartbeatInterval: heartbeatInterval,
		electionTimeout:   electionTimeout,
		lastHeartbeat:     time.Now(),
		// time ^ pid seeds the PRNG once at init.
		rng: rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid()))),
	}
	m.electionDeadline = m.randomDeadline()
	return m
}

func (m *Machine) randomDeadline() time.Time {
	lo := m.electionTimeout
	span := int64(m.electionTimeout)
	jitter := time.Duration(m.rng.Int63n(span))
	return time.Now().Add(lo + jitter)
}

// SetNodeCount updates the cluster size used for quorum math
// a candidate wins once votes_received > node_count/2.
func (m *Machine) SetNodeCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeCount = n
}

func (m *Machine) GetRole() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Machine) GetCurrentTerm() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTerm
}

func (m *Machine) GetVotedFor() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.votedFor
}

func (m *Machine) GetLeaderID() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaderID
}

func (m *Machine) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role == RoleLeader
}

// Snapshot returns a consistent copy of the persistable + transient
// fields, for STATUS responses.
type Snapshot struct {
	Role             Role
	CurrentTerm      uint32
	VotedFor         int32
	LeaderID         int32
	LastHeartbeat    time.Time
	ElectionDeadline time.Time
}

func (m *Machine) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Role:             m.role,
		CurrentTerm:      m.currentTerm,
		VotedFor:         m.votedFor,
		LeaderID:         m.leaderID,
		LastHeartbeat:    m.lastHeartbeat,
		ElectionDeadline: m.electionDeadline,
	}
}

// LoadPersisted seeds the in-memory term/vote/leader fields from a
// previously persisted record, on restart.
func (m *Machine) LoadPersisted(term uint32, votedFor, leaderID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTerm = term
	m.votedFor = votedFor
	m.leaderID = leaderID
}
