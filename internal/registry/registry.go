package registry

import (
	"fmt"
	"sync"

	"github.com/pgElephant/rale/internal/raleerr"
)

const (
	maxNameLen = 254
	maxIPLen   = 46
)

// Registry is the mutex-guarded, array-backed membership table.
// All accessors return copies; callers never see an
// interior pointer. Grounded on pkg/cluster/membership.go's
// copy-out-accessor discipline, adapted to a fixed-size slab keyed by
// int32 id with sentinel ID == -1 for empty slots.
type Registry struct {
	mu        sync.RWMutex
	nodes     [MaxNodes]Node
	count     int
	selfID    int32
	statePath string
}

// New returns an initialized, empty Registry.
func New() *Registry {
	r := &Registry{selfID: -1}
	for i := range r.nodes {
		r.nodes[i] = emptyNode()
	}
	return r
}

// SetStateFile sets the path cluster.state is persisted to. An empty
// path disables persistence (used by tests).
func (r *Registry) SetStateFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statePath = path
}

// Add validates and inserts a node descriptor, then best-effort
// persists the registry.
func (r *Registry) Add(id int32, name, ip string, ralePort, dstorePort uint16) error {
	if id <= 0 || id > 1000 {
		return raleerr.New(raleerr.KindValidation, "registry", "id out of range").
			WithDetail(fmt.Sprintf("id=%d", id))
	}
	if name == "" || len(name) > maxNameLen {
		return raleerr.New(raleerr.KindValidation, "registry", "invalid name length")
	}
	if ip == "" || len(ip) > maxIPLen {
		return raleerr.New(raleerr.KindValidation, "registry", "invalid ip length")
	}
	if ralePort == 0 || dstorePort == 0 {
		return raleerr.New(raleerr.KindValidation, "registry", "port out of range")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= MaxNodes {
		return raleerr.New(raleerr.KindConfiguration, "registry", "registry full").
			WithDetail(fmt.Sprintf("max_nodes=%d", MaxNodes))
	}
	for i := 0; i < r.count; i++ {
		if r.nodes[i].ID == id {
			return raleerr.New(raleerr.KindValidation, "registry", "duplicate id").
				WithDetail(fmt.Sprintf("id=%d", id))
		}
	}

	r.nodes[r.count] = Node{
		ID:             id,
		Name:           name,
		IP:             ip,
		RalePort:       ralePort,
		DStorePort:     dstorePort,
		State:          StateFollower,
		Status:         StatusActive,
		IsVotingMember: true,
	}
	r.count++
	r.persistLocked()
	return nil
}

// Remove deletes the node with the given id, shifting later slots down
// to preserve order, then best-effort persists.
func (r *Registry) Remove(id int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := 0; i < r.count; i++ {
		if r.nodes[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return raleerr.New(raleerr.KindValidation, "registry", "id not found").
			WithDetail(fmt.Sprintf("id=%d", id))
	}
	for i := idx; i < r.count-1; i++ {
		r.nodes[i] = r.nodes[i+1]
	}
	r.nodes[r.count-1] = emptyNode()
	r.count--
	r.persistLocked()
	return nil
}

// Count returns the number of occupied slots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// GetByID returns a copy of the node with the given id.
func (r *Registry) GetByID(id int32) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < r.count; i++ {
		if r.nodes[i].ID == id {
			return r.nodes[i], true
		}
	}
	return Node{}, false
}

// GetByIndex returns a copy of the node at the given slot, if
// occupied.
func (r *Registry) GetByIndex(idx int) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx < 0 || idx >= r.count {
		return Node{}, false
	}
	return r.nodes[idx], true
}

// All returns a copy of every occupied node, in slot order.
func (r *Registry) All() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, r.count)
	copy(out, r.nodes[:r.count])
	return out
}

// Peers returns a copy of every occupied node other than self.
func (r *Registry) Peers() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, r.count)
	for i := 0; i < r.count; i++ {
		if r.nodes[i].ID != r.selfID {
			out = append(out, r.nodes[i])
		}
	}
	return out
}

// SetSelf records which configured id is this process.
func (r *Registry) SetSelf(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfID = id
	r.persistLocked()
}

// GetSelf returns the self id, or -1 if unset.
func (r *Registry) GetSelf() int32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfID
}

// UpdateRuntimeState updates the transient role/status fields RALE
// reports back to the registry for STATUS/LIST. It is
// not part of the persisted cluster.state record.
func (r *Registry) UpdateRuntimeState(id int32, state NodeState, term uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.count; i++ {
		if r.nodes[i].ID == id {
			r.nodes[i].State = state
			r.nodes[i].Term = term
			return
		}
	}
}
