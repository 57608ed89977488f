// Package dstore implements the TCP replicated store layered on the
// elected RALE leader: connectivity with backoff,
// keepalive, the PUT/GET/DELETE write pipeline, membership
// propagation, and snapshot exchange on connect. Message encoding
// mirrors internal/rale's tagged-variant parser design, applied to
// DStore's own newline-terminated text grammar.
package dstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pgElephant/rale/internal/raleerr"
)

// MessageType tags one parsed DStore line.
type MessageType int

const (
	MsgHello MessageType = iota
	MsgKeepAlive
	MsgPut
	MsgForwardPut
	MsgGet
	MsgValue
	MsgNotFound
	MsgDelete
	MsgForwardDelete
	MsgPropagateAdd
	MsgPropagateRemove
	MsgLeader
	MsgLeaderElected
)

// Message is the decoded form of one DStore protocol line.
type Message struct {
	Type MessageType

	NodeID int32 // HELLO, PROPAGATE_ADD/REMOVE
	Name   string
	IP     string
	RalePort,
	DStorePort int

	Key, Value string

	Term     uint32
	LeaderID int32
}

// Encode renders m back onto the wire in its canonical text form.
func (m Message) Encode() string {
	switch m.Type {
	case MsgHello:
		return fmt.Sprintf("HELLO %d", m.NodeID)
	case MsgKeepAlive:
		return "KEEP_ALIVE"
	case MsgPut:
		return fmt.Sprintf("PUT %s=%s", m.Key, m.Value)
	case MsgForwardPut:
		return fmt.Sprintf("FORWARD_PUT %s=%s", m.Key, m.Value)
	case MsgGet:
		return fmt.Sprintf("GET %s", m.Key)
	case MsgValue:
		return fmt.Sprintf("VALUE %s=%s", m.Key, m.Value)
	case MsgNotFound:
		return fmt.Sprintf("NOT_FOUND %s", m.Key)
	case MsgDelete:
		return fmt.Sprintf("DELETE %s", m.Key)
	case MsgForwardDelete:
		return fmt.Sprintf("FORWARD_DELETE %s", m.Key)
	case MsgPropagateAdd:
		return fmt.Sprintf("PROPAGATE_ADD %d %s %s %d %d", m.NodeID, m.Name, m.IP, m.RalePort, m.DStorePort)
	case MsgPropagateRemove:
		return fmt.Sprintf("PROPAGATE_REMOVE %d", m.NodeID)
	case MsgLeader:
		return fmt.Sprintf("LEADER %d %d", m.Term, m.LeaderID)
	case MsgLeaderElected:
		return fmt.Sprintf("LEADER_ELECTED %d %d", m.Term, m.LeaderID)
	default:
		return ""
	}
}

// maxMessageBytes is the "key_max + value_max + small_header" budget.
// PUT is rejected early if the formatted line would exceed it.
const maxMessageBytes = 255 + 1024 + 32

// ParseMessage parses one DStore protocol line (without its trailing
// newline, already stripped by the line-framing reader).
func ParseMessage(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, raleerr.New(raleerr.KindValidation, "dstore", "empty message")
	}
	sp := strings.IndexByte(line, ' ')
	var verb, rest string
	if sp < 0 {
		verb, rest = line, ""
	} else {
		verb, rest = line[:sp], line[sp+1:]
	}

	switch verb {
	case "HELLO":
		id, err := strconv.ParseInt(rest, 10, 32)
		if err != nil {
			return Message{}, malformed("HELLO")
		}
		return Message{Type: MsgHello, NodeID: int32(id)}, nil

	case "KEEP_ALIVE":
		return Message{Type: MsgKeepAlive}, nil

	case "PUT", "FORWARD_PUT":
		key, value, ok := splitKV(rest)
		if !ok {
			return Message{}, malformed(verb)
		}
		t := MsgPut
		if verb == "FORWARD_PUT" {
			t = MsgForwardPut
		}
		return Message{Type: t, Key: key, Value: value}, nil

	case "GET":
		if rest == "" {
			return Message{}, malformed("GET")
		}
		return Message{Type: MsgGet, Key: rest}, nil

	case "VALUE":
		key, value, ok := splitKV(rest)
		if !ok {
			return Message{}, malformed("VALUE")
		}
		return Message{Type: MsgValue, Key: key, Value: value}, nil

	case "NOT_FOUND":
		if rest == "" {
			return Message{}, malformed("NOT_FOUND")
		}
		return Message{Type: MsgNotFound, Key: rest}, nil

	case "DELETE", "FORWARD_DELETE":
		if rest == "" {
			return Message{}, malformed(verb)
		}
		t := MsgDelete
		if verb == "FORWARD_DELETE" {
			t = MsgForwardDelete
		}
		return Message{Type: t, Key: rest}, nil

	case "PROPAGATE_ADD":
		return parsePropagateAdd(rest)

	case "PROPAGATE_REMOVE":
		id, err := strconv.ParseInt(rest, 10, 32)
		if err != nil {
			return Message{}, malformed("PROPAGATE_REMOVE")
		}
		return Message{Type: MsgPropagateRemove, NodeID: int32(id)}, nil

	case "LEADER", "LEADER_ELECTED":
		f := strings.Fields(rest)
		if len(f) != 2 {
			return Message{}, malformed(verb)
		}
		term, err1 := strconv.ParseUint(f[0], 10, 32)
		leader, err2 := strconv.ParseInt(f[1], 10, 32)
		if err1 != nil || err2 != nil {
			return Message{}, malformed(verb)
		}
		t := MsgLeader
		if verb == "LEADER_ELECTED" {
			t = MsgLeaderElected
		}
		return Message{Type: t, Term: uint32(term), LeaderID: int32(leader)}, nil

	default:
		return Message{}, malformed(verb)
	}
}

func parsePropagateAdd(rest string) (Message, error) {
	f := strings.Fields(rest)
	if len(f) != 5 {
		return Message{}, malformed("PROPAGATE_ADD")
	}
	id, err1 := strconv.ParseInt(f[0], 10, 32)
	ralePort, err2 := strconv.Atoi(f[3])
	dstorePort, err3 := strconv.Atoi(f[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return Message{}, malformed("PROPAGATE_ADD")
	}
	return Message{
		Type: MsgPropagateAdd, NodeID: int32(id), Name: f[1], IP: f[2],
		RalePort: ralePort, DStorePort: dstorePort,
	}, nil
}

func splitKV(s string) (string, string, bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func malformed(kind string) error {
	return raleerr.New(raleerr.KindValidation, "dstore", "malformed message").WithDetail(kind)
}

// FitsMessageBudget reports whether a PUT line of this shape fits
// the message-size limit.
func FitsMessageBudget(key, value string) bool {
	return len(Message{Type: MsgPut, Key: key, Value: value}.Encode()) <= maxMessageBytes
}
