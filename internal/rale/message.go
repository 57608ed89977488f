// Package rale implements the leader-election/heartbeat state machine:
// follower/candidate/leader/transitioning roles,
// randomized election timeout, term-gated vote granting, and periodic
// heartbeats over ASCII UDP datagrams. Grounded on pkg/raft/state.go's
// mutex-guarded getter/setter struct for Machine's shape, and on
// pkg/raft/raft.go's RPC-handler pattern for message dispatch, with
// RALE's own message grammar in place of Raft's
// RequestVote/AppendEntries wire format.
package rale

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pgElephant/rale/internal/raleerr"
)

// MessageType tags a parsed RALE datagram.
type MessageType int

const (
	MsgVoteRequest MessageType = iota
	MsgVoteGranted
	MsgVoteDenied
	MsgHeartbeat
	MsgHeartbeatAck
)

// Message is the tagged-variant result of parsing one RALE datagram:
// each message type is a tagged variant decoded by a single parser.
type Message struct {
	Type        MessageType
	CandidateID int32 // VOTE_REQUEST
	VoterID     int32 // VOTE_GRANTED / VOTE_DENIED
	LeaderID    int32 // HEARTBEAT
	Term        uint32
}

// Encode renders m back onto the wire in its canonical ASCII form.
func (m Message) Encode() string {
	switch m.Type {
	case MsgVoteRequest:
		return fmt.Sprintf("VOTE_REQUEST %d %d", m.CandidateID, m.Term)
	case MsgVoteGranted:
		return fmt.Sprintf("VOTE_GRANTED %d %d", m.VoterID, m.Term)
	case MsgVoteDenied:
		return fmt.Sprintf("VOTE_DENIED %d %d", m.VoterID, m.Term)
	case MsgHeartbeat:
		return fmt.Sprintf("HEARTBEAT %d %d", m.LeaderID, m.Term)
	case MsgHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return ""
	}
}

// ParseMessage parses one RALE datagram. Malformed messages return an
// error; callers are expected to log and drop, not fail loudly:
// malformed messages are ignored with a debug log.
func ParseMessage(raw []byte) (Message, error) {
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return Message{}, raleerr.New(raleerr.KindValidation, "rale", "empty message")
	}

	atoi32 := func(s string) (int32, error) {
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	}
	atou32 := func(s string) (uint32, error) {
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), err
	}

	switch fields[0] {
	case "VOTE_REQUEST":
		if len(fields) != 3 {
			return Message{}, malformed("VOTE_REQUEST")
		}
		cand, err1 := atoi32(fields[1])
		term, err2 := atou32(fields[2])
		if err1 != nil || err2 != nil {
			return Message{}, malformed("VOTE_REQUEST")
		}
		return Message{Type: MsgVoteRequest, CandidateID: cand, Term: term}, nil

	case "VOTE_GRANTED":
		if len(fields) != 3 {
			return Message{}, malformed("VOTE_GRANTED")
		}
		voter, err1 := atoi32(fields[1])
		term, err2 := atou32(fields[2])
		if err1 != nil || err2 != nil {
			return Message{}, malformed("VOTE_GRANTED")
		}
		return Message{Type: MsgVoteGranted, VoterID: voter, Term: term}, nil

	case "VOTE_DENIED":
		if len(fields) != 3 {
			return Message{}, malformed("VOTE_DENIED")
		}
		voter, err1 := atoi32(fields[1])
		term, err2 := atou32(fields[2])
		if err1 != nil || err2 != nil {
			return Message{}, malformed("VOTE_DENIED")
		}
		return Message{Type: MsgVoteDenied, VoterID: voter, Term: term}, nil

	case "HEARTBEAT":
		if len(fields) != 3 {
			return Message{}, malformed("HEARTBEAT")
		}
		leader, err1 := atoi32(fields[1])
		term, err2 := atou32(fields[2])
		if err1 != nil || err2 != nil {
			return Message{}, malformed("HEARTBEAT")
		}
		return Message{Type: MsgHeartbeat, LeaderID: leader, Term: term}, nil

	case "HEARTBEAT_ACK":
		return Message{Type: MsgHeartbeatAck}, nil

	default:
		return Message{}, malformed(fields[0])
	}
}

func malformed(kind string) error {
	return raleerr.New(raleerr.KindValidation, "rale", "malformed message").WithDetail(kind)
}
