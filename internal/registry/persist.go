package registry

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pgElephant/rale/internal/raleerr"
)

// persistLocked writes cluster.state. Best-effort: a write failure is
// swallowed here, since every mutation attempts a best-effort
// rewrite; callers that need the error use Persist.
func (r *Registry) persistLocked() {
	if r.statePath == "" {
		return
	}
	_ = r.writeLocked()
}

// Persist forces a cluster.state rewrite and returns any error.
func (r *Registry) Persist() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writeLocked()
}

func (r *Registry) writeLocked() error {
	f, err := os.Create(r.statePath)
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "registry", "cluster.state write failed", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "self_id=%d\n", r.selfID)
	fmt.Fprintf(w, "node_count=%d\n", r.count)
	for i := 0; i < r.count; i++ {
		n := r.nodes[i]
		fmt.Fprintf(w, "node[%d].id=%d\n", i, n.ID)
		fmt.Fprintf(w, "node[%d].name=%s\n", i, n.Name)
		fmt.Fprintf(w, "node[%d].ip=%s\n", i, n.IP)
		fmt.Fprintf(w, "node[%d].rale_port=%d\n", i, n.RalePort)
		fmt.Fprintf(w, "node[%d].dstore_port=%d\n", i, n.DStorePort)
	}
	if err := w.Flush(); err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "registry", "cluster.state flush failed", err)
	}
	return nil
}

// Load reads cluster.state from path and populates the registry. A
// missing file is not an error (first boot); a truncated or malformed
// node_count line resets to an empty registry.
func (r *Registry) Load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statePath = path

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return raleerr.Wrap(raleerr.KindStorage, "registry", "cluster.state read failed", err)
	}
	defer f.Close()

	values := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		values[kv[0]] = kv[1]
	}

	for i := range r.nodes {
		r.nodes[i] = emptyNode()
	}
	r.count = 0
	r.selfID = -1

	if v, ok := values["self_id"]; ok {
		if id, err := strconv.Atoi(v); err == nil {
			r.selfID = int32(id)
		}
	}

	countStr, ok := values["node_count"]
	if !ok {
		return nil
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 || count > MaxNodes {
		// Malformed count: reset to empty registry (tolerate, don't fail).
		r.count = 0
		return nil
	}

	for i := 0; i < count; i++ {
		prefix := fmt.Sprintf("node[%d].", i)
		idStr, hasID := values[prefix+"id"]
		if !hasID {
			break
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		ralePort, _ := strconv.Atoi(values[prefix+"rale_port"])
		dstorePort, _ := strconv.Atoi(values[prefix+"dstore_port"])
		r.nodes[i] = Node{
			ID:             int32(id),
			Name:           values[prefix+"name"],
			IP:             values[prefix+"ip"],
			RalePort:       uint16(ralePort),
			DStorePort:     uint16(dstorePort),
			State:          StateFollower,
			Status:         StatusActive,
			IsVotingMember: true,
		}
		r.count++
	}
	return nil
}
