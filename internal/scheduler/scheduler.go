// Package scheduler implements the cooperative tick loop: a single
// goroutine drives UDP receive, RALE role duty, DStore
// server tick, and DStore client tick each iteration, with a bounded
// idle sleep. Shutdown is context cancellation plus a single Done
// channel closed when the loop returns; there is no per-subsystem
// completion signalling, since all four steps run on this one
// goroutine. Grounded on cmd/server/main.go's signal.Notify +
// graceful-shutdown sequence.
package scheduler

import (
	"context"
	"time"

	"github.com/pgElephant/rale/internal/dstore"
	"github.com/pgElephant/rale/internal/rale"
	"github.com/pgElephant/rale/internal/statestore"
	"github.com/pgElephant/rale/internal/udpnet"
)

const idleSleepCap = 50 * time.Millisecond

// Scheduler drives the four-step tick loop.
type Scheduler struct {
	udp        *udpnet.Conn
	machine    *rale.Machine
	replicator *dstore.Replicator
	raleFile   *statestore.RaleStateFile

	done chan struct{}
}

// New wires a Scheduler over already-constructed components.
func New(udp *udpnet.Conn, machine *rale.Machine, replicator *dstore.Replicator, raleFile *statestore.RaleStateFile) *Scheduler {
	return &Scheduler{udp: udp, machine: machine, replicator: replicator, raleFile: raleFile, done: make(chan struct{})}
}

// Run executes the cooperative loop until ctx is cancelled. Each
// iteration performs, in order: UDP message processing, RALE role
// duty, DStore server tick, DStore client tick.
func (s *Scheduler) Run(ctx context.Context, broadcaster rale.Broadcaster) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.udp.ProcessMessages()
		s.machine.Tick(s.raleFile, broadcaster, func(term uint32, leaderID int32) {
			_ = s.raleFile.UpdateLeader(term, leaderID)
			s.replicator.BroadcastLeaderSnapshot(term, leaderID)
		})
		s.replicator.ServerTick()
		s.replicator.ClientTick()

		time.Sleep(idleSleepCap)
	}
}

// Done is closed once Run has returned after ctx cancellation,
// signalling this subsystem's drain is complete.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}
