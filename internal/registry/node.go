// Package registry implements the bounded membership table: a fixed
// array of node descriptors, unique by id, persisted to
// cluster.state on every mutation.
package registry

import "time"

// MaxNodes bounds the registry; the 11th Add call fails.
const MaxNodes = 10

// NodeState is the node's role in the RALE state machine.
type NodeState int

const (
	StateFollower NodeState = iota
	StateCandidate
	StateLeader
	StateOffline
)

func (s NodeState) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// NodeStatus is the node's liveness as last observed by this process.
type NodeStatus int

const (
	StatusActive NodeStatus = iota
	StatusInactive
	StatusFailed
)

func (s NodeStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Node is the descriptor held per registry slot. An Node
// with ID == -1 marks an empty slot.
type Node struct {
	ID             int32
	Name           string
	IP             string
	RalePort       uint16
	DStorePort     uint16
	Priority       int32
	State          NodeState
	Status         NodeStatus
	Term           uint32
	LastLogIndex   uint64
	LastLogTerm    uint32
	LastHeartbeat  time.Time
	IsVotingMember bool
}

func emptyNode() Node {
	return Node{ID: -1, IsVotingMember: true}
}
