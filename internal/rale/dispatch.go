package rale

// HandleMessage applies one received datagram's effect to the state
// machine and returns the reply to send back to the sender, if any.
// Grounded on pkg/raft/raft.go's RPC-handler dispatch switch,
// generalized from Raft's RequestVote/AppendEntries pair to RALE's
// five-message grammar.
func (m *Machine) HandleMessage(msg Message, persist Persister, bc Broadcaster, onElected ElectionWon) (Message, bool) {
	switch msg.Type {
	case MsgVoteRequest:
		return m.HandleVoteRequest(msg, persist)
	case MsgVoteGranted:
		m.HandleVoteGranted(msg, persist, bc, onElected)
		return Message{}, false
	case MsgVoteDenied:
		return Message{}, false
	case MsgHeartbeat:
		return m.HandleHeartbeat(msg, persist), true
	case MsgHeartbeatAck:
		m.HandleHeartbeatAck()
		return Message{}, false
	default:
		return Message{}, false
	}
}
