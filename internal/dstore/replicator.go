package dstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/pgElephant/rale/internal/kv"
	"github.com/pgElephant/rale/internal/raleerr"
	"github.com/pgElephant/rale/internal/registry"
	"github.com/pgElephant/rale/internal/statestore"
	"github.com/pgElephant/rale/internal/tcpnet"
)

const (
	backoffBase    = 5 * time.Second
	backoffTier1   = 5  // failures before 2x backoff
	backoffTier2   = 10 // failures before 4x backoff
)

// peerLink is the per-peer runtime state, not persisted.
type peerLink struct {
	node                   registry.Node
	client                 *tcpnet.Client
	connectionStatus       bool
	lastKeepAliveSent      time.Time
	lastConnectionAttempt  time.Time
	connectionAttemptCount int
}

// Replicator is the DStore component that owns the
// outbound client pool, the inbound server slot→peer map, and drives
// the write/propagation pipeline against the shared KV table,
// journal, rale.state file, and registry.
type Replicator struct {
	mu sync.Mutex

	selfID int32

	table    *kv.Table
	journal  *statestore.JournalFile
	raleFile *statestore.RaleStateFile
	reg      *registry.Registry

	server     *tcpnet.Server
	slotToPeer map[int]int32 // server-side slot -> attributed peer id
	links      map[int32]*peerLink

	keepAliveInterval time.Duration

	currentTerm         func() uint32       // reads the live term from internal/rale.Machine
	onMembershipChanged func(nodeCount int) // keeps internal/rale.Machine's quorum math in sync with the registry
}

// NewReplicator wires a Replicator over already-constructed storage
// components. currentTerm lets the replicator always snapshot the
// real term without internal/dstore importing internal/rale directly.
// onMembershipChanged, if non-nil, is invoked with the registry's new
// node count every time a local or propagated ADD/REMOVE changes it.
func NewReplicator(selfID int32, table *kv.Table, journal *statestore.JournalFile, raleFile *statestore.RaleStateFile, reg *registry.Registry, keepAliveInterval time.Duration, currentTerm func() uint32, onMembershipChanged func(int)) *Replicator {
	return &Replicator{
		selfID:              selfID,
		table:               table,
		journal:             journal,
		raleFile:            raleFile,
		reg:                 reg,
		slotToPeer:          map[int]int32{},
		links:               map[int32]*peerLink{},
		keepAliveInterval:   keepAliveInterval,
		currentTerm:         currentTerm,
		onMembershipChanged: onMembershipChanged,
	}
}

func (r *Replicator) notifyMembershipChanged() {
	if r.onMembershipChanged != nil {
		r.onMembershipChanged(r.reg.Count())
	}
}

// AttachServer wires the inbound TCP server whose callbacks dispatch
// into HandleServerLine/HandleServerDisconnection.
func (r *Replicator) AttachServer(s *tcpnet.Server) {
	r.server = s
}

// EnsurePeerLink creates (if absent) the persistent outbound client
// for a peer: on init, a persistent TCP client is created for every
// non-self peer.
func (r *Replicator) EnsurePeerLink(n registry.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == r.selfID {
		return
	}
	if _, ok := r.links[n.ID]; ok {
		return
	}
	addr := fmt.Sprintf("%s:%d", n.IP, n.DStorePort)
	link := &peerLink{node: n}
	link.client = tcpnet.NewClient(addr, func(line string) {
		r.handleClientLine(n.ID, line)
	}, func() {
		r.mu.Lock()
		if l, ok := r.links[n.ID]; ok {
			l.connectionStatus = false
		}
		r.mu.Unlock()
	})
	r.links[n.ID] = link
}

// nextBackoff computes the reconnect delay for a peer's current
// failure count: 5s base, 2x after 5 failures, 4x after 10.
func nextBackoff(failures int) time.Duration {
	switch {
	case failures > backoffTier2:
		return backoffBase * 4
	case failures > backoffTier1:
		return backoffBase * 2
	default:
		return backoffBase
	}
}

// ClientTick performs at most one connection attempt and processes
// receives on already-connected outbound clients.
func (r *Replicator) ClientTick() {
	r.mu.Lock()
	var toAttempt *peerLink
	var attemptID int32
	now := time.Now()
	for id, l := range r.links {
		if l.connectionStatus {
			continue
		}
		delay := nextBackoff(l.connectionAttemptCount)
		if now.Sub(l.lastConnectionAttempt) >= delay {
			toAttempt = l
			attemptID = id
			break
		}
	}
	connected := make([]*peerLink, 0, len(r.links))
	for _, l := range r.links {
		if l.connectionStatus {
			connected = append(connected, l)
		}
	}
	r.mu.Unlock()

	if toAttempt != nil {
		r.attemptConnect(attemptID, toAttempt)
	}
	for _, l := range connected {
		l.client.Run()
		r.maybeKeepAliveClient(l)
	}
}

func (r *Replicator) attemptConnect(id int32, l *peerLink) {
	r.mu.Lock()
	l.lastConnectionAttempt = time.Now()
	r.mu.Unlock()

	err := l.client.Connect()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		l.connectionAttemptCount++
		return
	}
	l.connectionAttemptCount = 0
	l.connectionStatus = true
	r.sendGreetingLocked(l.client, id)
}

// sendGreetingLocked sends HELLO, KEEP_ALIVE, and the full snapshot to
// a freshly connected peer. Caller holds r.mu.
func (r *Replicator) sendGreetingLocked(c *tcpnet.Client, peerID int32) {
	_ = c.Send(Message{Type: MsgHello, NodeID: r.selfID}.Encode())
	_ = c.Send(Message{Type: MsgKeepAlive}.Encode())
	for _, n := range r.reg.All() {
		_ = c.Send(Message{
			Type: MsgPropagateAdd, NodeID: n.ID, Name: n.Name, IP: n.IP,
			RalePort: int(n.RalePort), DStorePort: int(n.DStorePort),
		}.Encode())
	}
	_ = c.Send(Message{Type: MsgLeader, Term: r.currentTerm(), LeaderID: r.leaderID()}.Encode())
}

func (r *Replicator) leaderID() int32 {
	st, err := r.raleFile.Read()
	if err != nil {
		return -1
	}
	return st.LeaderID
}

func (r *Replicator) maybeKeepAliveClient(l *peerLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !l.connectionStatus {
		return
	}
	if time.Since(l.lastKeepAliveSent) < r.keepAliveInterval {
		return
	}
	if err := l.client.Send(Message{Type: MsgKeepAlive}.Encode()); err == nil {
		l.lastKeepAliveSent = time.Now()
	}
}

// ServerTick drives one server-side select iteration plus per-peer
// keepalive on attributed slots.
func (r *Replicator) ServerTick() {
	if r.server == nil {
		return
	}
	r.server.Tick()
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, peerID := range r.slotToPeer {
		l, ok := r.links[peerID]
		if !ok || time.Since(l.lastKeepAliveSent) < r.keepAliveInterval {
			continue
		}
		if err := r.server.Send(slot, Message{Type: MsgKeepAlive}.Encode()); err == nil {
			l.lastKeepAliveSent = time.Now()
		}
	}
}

// HandleServerDisconnection clears the slot→peer attribution.
func (r *Replicator) HandleServerDisconnection(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slotToPeer, slot)
}

// HandleServerLine dispatches one line received on an accepted
// server-side slot.
func (r *Replicator) HandleServerLine(slot int, line string) {
	msg, err := ParseMessage(line)
	if err != nil {
		return
	}
	if msg.Type == MsgHello {
		r.mu.Lock()
		r.slotToPeer[slot] = msg.NodeID
		if l, ok := r.links[msg.NodeID]; ok {
			l.connectionStatus = true
		}
		r.sendGreetingServerSideLocked(slot)
		r.mu.Unlock()
		return
	}
	r.dispatch(msg, func(reply Message) {
		_ = r.server.Send(slot, reply.Encode())
	})
}

func (r *Replicator) sendGreetingServerSideLocked(slot int) {
	_ = r.server.Send(slot, Message{Type: MsgKeepAlive}.Encode())
	for _, n := range r.reg.All() {
		_ = r.server.Send(slot, Message{
			Type: MsgPropagateAdd, NodeID: n.ID, Name: n.Name, IP: n.IP,
			RalePort: int(n.RalePort), DStorePort: int(n.DStorePort),
		}.Encode())
	}
	_ = r.server.Send(slot, Message{Type: MsgLeader, Term: r.currentTerm(), LeaderID: r.leaderID()}.Encode())
}

func (r *Replicator) handleClientLine(peerID int32, line string) {
	msg, err := ParseMessage(line)
	if err != nil {
		return
	}
	r.dispatch(msg, func(reply Message) {
		r.mu.Lock()
		l := r.links[peerID]
		r.mu.Unlock()
		if l != nil {
			_ = l.client.Send(reply.Encode())
		}
	})
}

// dispatch applies a parsed message's side effects; reply is called
// (if non-nil) when the message warrants a direct response.
func (r *Replicator) dispatch(msg Message, reply func(Message)) {
	switch msg.Type {
	case MsgKeepAlive:
		// receipt alone refreshes liveness; no reply required.

	case MsgPut:
		// A raw PUT arrives only as a leader's broadcast to followers;
		// apply it locally without re-forwarding or re-broadcasting.
		_ = r.table.Put([]byte(msg.Key), []byte(msg.Value))
		_ = r.journal.Append(msg.Key, msg.Value)

	case MsgForwardPut:
		// A FORWARD_PUT arrives only at the leader; treat it exactly
		// like a locally issued PUT.
		_ = r.applyPut(msg.Key, msg.Value)

	case MsgGet:
		if reply == nil {
			return
		}
		if v, ok := r.table.Get([]byte(msg.Key)); ok {
			reply(Message{Type: MsgValue, Key: msg.Key, Value: string(v)})
		} else {
			reply(Message{Type: MsgNotFound, Key: msg.Key})
		}

	case MsgDelete:
		r.table.Delete([]byte(msg.Key))

	case MsgForwardDelete:
		_ = r.applyDelete(msg.Key)

	case MsgPropagateAdd:
		if r.reg.Add(msg.NodeID, msg.Name, msg.IP, uint16(msg.RalePort), uint16(msg.DStorePort)) == nil {
			r.notifyMembershipChanged()
		}

	case MsgPropagateRemove:
		if r.reg.Remove(msg.NodeID) == nil {
			r.notifyMembershipChanged()
		}

	case MsgLeader:
		_ = r.raleFile.UpdateLeader(msg.Term, msg.LeaderID)

	case MsgLeaderElected:
		_ = r.raleFile.UpdateLeader(msg.Term, msg.LeaderID)
		r.BroadcastLeaderSnapshot(msg.Term, msg.LeaderID)
	}
}

// isLeader reports whether this node is currently recorded as leader
// in rale.state.
func (r *Replicator) isLeader() bool {
	st, err := r.raleFile.Read()
	if err != nil {
		return false
	}
	return st.LeaderID == r.selfID
}

// Put runs the write pipeline for a locally issued
// PUT (from the control socket). A non-leader forwards to the leader;
// the leader applies and broadcasts.
func (r *Replicator) Put(key, value string) error {
	if !FitsMessageBudget(key, value) {
		return raleerr.New(raleerr.KindValidation, "dstore", "message exceeds size budget")
	}
	if !r.isLeader() {
		return r.forwardToLeader(Message{Type: MsgForwardPut, Key: key, Value: value})
	}
	return r.applyPut(key, value)
}

// applyPut is the leader-only insert+journal+broadcast sequence,
// shared by locally issued PUTs and FORWARD_PUTs received from
// followers.
func (r *Replicator) applyPut(key, value string) error {
	if err := r.table.Put([]byte(key), []byte(value)); err != nil {
		return err
	}
	if err := r.journal.Append(key, value); err != nil {
		return err
	}
	r.broadcastPeers(Message{Type: MsgPut, Key: key, Value: value})
	return nil
}

// Get serves a read locally; GET is never forwarded to the leader.
func (r *Replicator) Get(key string) (string, bool) {
	v, ok := r.table.Get([]byte(key))
	if !ok {
		return "", false
	}
	return string(v), true
}

// Delete runs the DELETE pipeline: leader deletes and
// broadcasts; a follower forwards to the leader if known and
// connected, else drops with a logged warning (left to the caller,
// which has the logger).
func (r *Replicator) Delete(key string) error {
	if !r.isLeader() {
		return r.forwardToLeader(Message{Type: MsgForwardDelete, Key: key})
	}
	return r.applyDelete(key)
}

// applyDelete is the leader-only delete+broadcast sequence, shared by
// locally issued deletes and FORWARD_DELETEs received from followers.
func (r *Replicator) applyDelete(key string) error {
	r.table.Delete([]byte(key))
	r.broadcastPeers(Message{Type: MsgDelete, Key: key})
	return nil
}

// forwardToLeader sends msg to the currently known leader, if reachable.
func (r *Replicator) forwardToLeader(msg Message) error {
	leaderID := r.leaderID()
	if leaderID < 0 {
		return raleerr.New(raleerr.KindConsensus, "dstore", "no known leader")
	}
	r.mu.Lock()
	l, ok := r.links[leaderID]
	r.mu.Unlock()
	if !ok || !l.connectionStatus {
		return raleerr.New(raleerr.KindNetwork, "dstore", "leader unreachable")
	}
	if err := l.client.Send(msg.Encode()); err != nil {
		r.mu.Lock()
		l.connectionStatus = false
		r.mu.Unlock()
		return raleerr.Wrap(raleerr.KindNetwork, "dstore", "forward send failed", err)
	}
	return nil
}

// broadcastPeers sends msg to every connected peer, client-side and
// server-side.
func (r *Replicator) broadcastPeers(msg Message) {
	encoded := msg.Encode()
	r.mu.Lock()
	clients := make([]*tcpnet.Client, 0, len(r.links))
	for _, l := range r.links {
		if l.connectionStatus {
			clients = append(clients, l.client)
		}
	}
	slots := make([]int, 0, len(r.slotToPeer))
	for slot := range r.slotToPeer {
		slots = append(slots, slot)
	}
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.Send(encoded)
	}
	for _, slot := range slots {
		_ = r.server.Send(slot, encoded)
	}
}

// BroadcastLeaderSnapshot sends a LEADER snapshot to every connected
// peer; invoked when RALE elects a new leader.
func (r *Replicator) BroadcastLeaderSnapshot(term uint32, leaderID int32) {
	r.broadcastPeers(Message{Type: MsgLeader, Term: term, LeaderID: leaderID})
}

// PropagateAdd applies an ADD locally and broadcasts PROPAGATE_ADD to
// every connected peer.
func (r *Replicator) PropagateAdd(n registry.Node) error {
	if err := r.reg.Add(n.ID, n.Name, n.IP, n.RalePort, n.DStorePort); err != nil {
		return err
	}
	r.notifyMembershipChanged()
	r.EnsurePeerLink(n)
	r.broadcastPeers(Message{
		Type: MsgPropagateAdd, NodeID: n.ID, Name: n.Name, IP: n.IP,
		RalePort: int(n.RalePort), DStorePort: int(n.DStorePort),
	})
	return nil
}

// PropagateRemove applies a REMOVE locally and broadcasts
// PROPAGATE_REMOVE to every connected peer.
func (r *Replicator) PropagateRemove(id int32) error {
	if err := r.reg.Remove(id); err != nil {
		return err
	}
	r.notifyMembershipChanged()
	r.broadcastPeers(Message{Type: MsgPropagateRemove, NodeID: id})
	return nil
}
