// Package testcluster provides an in-process multi-node test harness
// for RALE/DStore, exercising election, replication, and membership
// behavior end to end over real loopback UDP/TCP sockets. Grounded
// on pkg/testing/cluster.go's TestCluster
// (NewTestCluster, WaitForLeader, WaitForStableLeader,
// PartitionLeader/HealPartition, SubmitCommand), generalized from
// rpc.LocalTransport's in-memory dispatch to real sockets, since the
// scenarios are phrased in terms of wire-level behavior (rale.db
// contents, control-socket round trips) that an in-memory fake
// transport would not exercise faithfully.
package testcluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pgElephant/rale/internal/dstore"
	"github.com/pgElephant/rale/internal/kv"
	"github.com/pgElephant/rale/internal/rale"
	"github.com/pgElephant/rale/internal/registry"
	"github.com/pgElephant/rale/internal/scheduler"
	"github.com/pgElephant/rale/internal/statestore"
	"github.com/pgElephant/rale/internal/tcpnet"
	"github.com/pgElephant/rale/internal/udpnet"
)

// regPeerSource adapts *registry.Registry to rale.PeerSource.
type regPeerSource struct{ reg *registry.Registry }

func (p regPeerSource) Peers() []rale.PeerAddr {
	nodes := p.reg.Peers()
	out := make([]rale.PeerAddr, len(nodes))
	for i, n := range nodes {
		out[i] = rale.PeerAddr{IP: n.IP, Port: int(n.RalePort)}
	}
	return out
}

// TestNode bundles one node's full stack.
type TestNode struct {
	ID         int32
	Machine    *rale.Machine
	Replicator *dstore.Replicator
	Registry   *registry.Registry
	Table      *kv.Table

	udpConn    *udpnet.Conn
	tcpServer  *tcpnet.Server
	raleFile   *statestore.RaleStateFile
	journal    *statestore.JournalFile
	sched      *scheduler.Scheduler
	cancel     context.CancelFunc
	dir        string
	dead       bool
}

// Cluster is the harness: n fully wired nodes over loopback sockets.
type Cluster struct {
	Nodes []*TestNode
	dirs  []string
}

// New wires n nodes, each on its own ephemeral UDP/TCP port pair, with
// a shared initial membership list and a fresh temp directory for its
// on-disk files. Node 1 and up are all voting peers of each other.
func New(n int) (*Cluster, error) {
	c := &Cluster{}
	type portPair struct{ rale, dstore int }
	ports := make([]portPair, n)
	udpConns := make([]*udpnet.Conn, n)
	servers := make([]*tcpnet.Server, n)

	// Bind first to learn ephemeral ports before any node's Machine or
	// Replicator (whose callbacks the sockets will dispatch into) is
	// constructed.
	for i := 0; i < n; i++ {
		uc, err := udpnet.ServerInit(0, nil)
		if err != nil {
			return nil, err
		}
		udpConns[i] = uc
		ports[i].rale = uc.LocalPort()
	}
	for i := 0; i < n; i++ {
		srv, err := tcpnet.NewServer(0, nil, nil, nil)
		if err != nil {
			return nil, err
		}
		servers[i] = srv
		ports[i].dstore = srv.LocalPort()
	}

	for i := 0; i < n; i++ {
		dir, err := os.MkdirTemp("", fmt.Sprintf("rale-testcluster-%d-", i))
		if err != nil {
			return nil, err
		}
		c.dirs = append(c.dirs, dir)

		reg := registry.New()
		reg.SetSelf(int32(i + 1))
		for j := 0; j < n; j++ {
			_ = reg.Add(int32(j+1), fmt.Sprintf("n%d", j+1), "127.0.0.1", uint16(ports[j].rale), uint16(ports[j].dstore))
		}

		raleFile := statestore.NewRaleStateFile(filepath.Join(dir, "rale.state"))
		journal, err := statestore.NewJournalFile(filepath.Join(dir, "rale.db"))
		if err != nil {
			return nil, err
		}
		table := kv.New()

		machine := rale.NewMachine(int32(i+1), n, 200*time.Millisecond, 800*time.Millisecond)

		repl := dstore.NewReplicator(int32(i+1), table, journal, raleFile, reg, 500*time.Millisecond, machine.GetCurrentTerm, machine.SetNodeCount)
		repl.AttachServer(servers[i])
		for _, peer := range reg.Peers() {
			repl.EnsurePeerLink(peer)
		}

		bc := &rale.UDPBroadcaster{Conn: udpConns[i], Peers: regPeerSource{reg}}
		udpConns[i].SetOnReceive(raleReceiveHandler(machine, raleFile, bc, func(term uint32, leaderID int32) {
			_ = raleFile.UpdateLeader(term, leaderID)
			repl.BroadcastLeaderSnapshot(term, leaderID)
		}))
		servers[i].SetCallbacks(
			func(slot int, ip string, port int) {},
			repl.HandleServerLine,
			func(slot int, ip string, port int) { repl.HandleServerDisconnection(slot) },
		)

		node := &TestNode{
			ID: int32(i + 1), Machine: machine, Replicator: repl, Registry: reg, Table: table,
			udpConn: udpConns[i], tcpServer: servers[i], raleFile: raleFile, journal: journal, dir: dir,
		}
		c.Nodes = append(c.Nodes, node)
	}
	return c, nil
}

// raleReceiveHandler adapts Machine.HandleMessage into a udpnet
// OnReceive callback: parse, dispatch, and reply to the sender if the
// message warrants one.
func raleReceiveHandler(m *rale.Machine, persist *statestore.RaleStateFile, bc *rale.UDPBroadcaster, onElected rale.ElectionWon) udpnet.OnReceive {
	return func(raw []byte, senderIP string, senderPort int) {
		msg, err := rale.ParseMessage(raw)
		if err != nil {
			return
		}
		reply, ok := m.HandleMessage(msg, persist, bc, onElected)
		if ok {
			_ = bc.Conn.SendTo([]byte(reply.Encode()), senderIP, senderPort)
		}
	}
}

// Start launches every node's scheduler goroutine.
func (c *Cluster) Start() {
	for _, n := range c.Nodes {
		n := n
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		bc := &rale.UDPBroadcaster{Conn: n.udpConn, Peers: regPeerSource{n.Registry}}
		n.sched = scheduler.New(n.udpConn, n.Machine, n.Replicator, n.raleFile)
		go n.sched.Run(ctx, bc)
	}
}

// Stop cancels every node's scheduler and closes its sockets.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		if n.cancel != nil {
			n.cancel()
		}
	}
	time.Sleep(50 * time.Millisecond)
	for _, n := range c.Nodes {
		n.udpConn.Close()
		n.tcpServer.Close()
		n.journal.Close()
	}
}

// Cleanup stops the cluster and removes every node's temp directory.
func (c *Cluster) Cleanup() {
	c.Stop()
	for _, d := range c.dirs {
		os.RemoveAll(d)
	}
}

// WaitForLeader polls until exactly one node reports itself leader.
func (c *Cluster) WaitForLeader(timeout time.Duration) (*TestNode, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var found *TestNode
		leaders := 0
		for _, n := range c.Nodes {
			if !n.dead && n.Machine.IsLeader() {
				found = n
				leaders++
			}
		}
		if leaders == 1 {
			return found, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, fmt.Errorf("no leader elected within %s", timeout)
}

// WaitForStableLeader waits for a leader and confirms it holds for 10
// consecutive checks, grounded on pkg/testing/cluster.go's
// WaitForStableLeader.
func (c *Cluster) WaitForStableLeader(timeout time.Duration) (*TestNode, error) {
	deadline := time.Now().Add(timeout)
	var leader *TestNode
	stable := 0
	const required = 10
	for time.Now().Before(deadline) {
		cur := c.currentLeader()
		if cur != nil && cur == leader {
			stable++
			if stable >= required {
				return leader, nil
			}
		} else {
			leader = cur
			stable = 0
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("no stable leader elected within %s", timeout)
}

func (c *Cluster) currentLeader() *TestNode {
	for _, n := range c.Nodes {
		if !n.dead && n.Machine.IsLeader() {
			return n
		}
	}
	return nil
}

// PartitionLeader closes the current leader's TCP listener and UDP
// socket to simulate a crash, returning the partitioned node. Once a
// node is partitioned its stale in-memory role is no longer
// considered by currentLeader, since its scheduler has stopped
// ticking and would otherwise report LEADER forever.
func (c *Cluster) PartitionLeader() *TestNode {
	leader := c.currentLeader()
	if leader == nil {
		return nil
	}
	leader.udpConn.Close()
	leader.tcpServer.Close()
	if leader.cancel != nil {
		leader.cancel()
	}
	leader.dead = true
	return leader
}

// SubmitPut drives a PUT against the current leader via its
// Replicator, retrying while no leader is known (mirrors
// pkg/testing/cluster.go's SubmitCommand retry loop).
func (c *Cluster) SubmitPut(key, value string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		leader := c.currentLeader()
		if leader == nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if err := leader.Replicator.Put(key, value); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout submitting PUT %s=%s", key, value)
}
