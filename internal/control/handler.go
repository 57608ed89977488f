// Package control implements the Unix-domain admin socket: one
// client at a time, line- or JSON-framed commands, JSON responses.
// Response-shape conventions (status_code/message,
// leader-hint style fields) are grounded on pkg/api/http.go's
// respondNotLeader/handleStatus JSON conventions, translated from HTTP
// status codes to a {status_code, message} envelope carried
// over a Unix socket instead of HTTP.
package control

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pgElephant/rale/internal/dstore"
	"github.com/pgElephant/rale/internal/raleerr"
	"github.com/pgElephant/rale/internal/rale"
	"github.com/pgElephant/rale/internal/registry"
)

// Dependencies is the set of components the control socket dispatches
// into; kept as an interface-free struct since every field is a
// concrete type already safe for concurrent use.
type Dependencies struct {
	Machine    *rale.Machine
	Replicator *dstore.Replicator
	Registry   *registry.Registry
	Shutdown   func()
}

// Server is the Unix-domain control-socket listener.
type Server struct {
	path string
	ln   net.Listener
	deps Dependencies
}

// NewServer binds a Unix-domain SOCK_STREAM socket at path with 0666
// permissions.
func NewServer(path string, deps Dependencies) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, raleerr.Wrap(raleerr.KindNetwork, "control", "listen failed", err).
			WithDetail(path)
	}
	if err := os.Chmod(path, 0666); err != nil {
		return nil, raleerr.Wrap(raleerr.KindStorage, "control", "chmod failed", err)
	}
	return &Server{path: path, ln: ln, deps: deps}, nil
}

// Serve accepts one client at a time, blocking, until Close is called.
// This is one of the places a blocking accept is acceptable.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handleConn(conn)
	}
}

// Close shuts down the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			resp := s.dispatch(line)
			resp.ID = uuid.New().String()
			enc, _ := json.Marshal(resp)
			conn.Write(append(enc, '\n'))
		}
		if err != nil {
			return
		}
	}
}

// Response is the JSON envelope every control command returns
// carrying a status_code and message alongside any payload.
type Response struct {
	ID         string      `json:"id"`
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func ok(data interface{}) Response {
	return Response{StatusCode: 200, Message: "ok", Data: data}
}

func fail(err error) Response {
	if re, ok := err.(*raleerr.Error); ok {
		return Response{StatusCode: re.Kind.StatusCode(), Message: re.Error()}
	}
	return Response{StatusCode: 500, Message: err.Error()}
}

func (s *Server) dispatch(line string) Response {
	if strings.HasPrefix(line, "{") {
		return s.dispatchJSON(line)
	}
	return s.dispatchLine(line)
}

func (s *Server) dispatchJSON(line string) Response {
	var req struct {
		Command string `json:"command"`
		ID      int32  `json:"id"`
		Name    string `json:"name"`
		IP      string `json:"ip"`
		RalePort,
		DStorePort int
		Key, Value string
	}
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return Response{StatusCode: 400, Message: "invalid json"}
	}
	switch strings.ToUpper(req.Command) {
	case "ADD":
		return s.cmdAdd(req.ID, req.Name, req.IP, req.RalePort, req.DStorePort)
	case "REMOVE":
		return s.cmdRemove(req.ID)
	case "PUT":
		return s.cmdPut(req.Key, req.Value)
	case "GET":
		return s.cmdGet(req.Key)
	default:
		return s.dispatchLine(req.Command)
	}
}

func (s *Server) dispatchLine(line string) Response {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Response{StatusCode: 400, Message: "empty command"}
	}
	switch strings.ToUpper(fields[0]) {
	case "STATUS":
		return s.cmdStatus()
	case "LIST":
		return s.cmdList()
	case "STOP":
		return s.cmdStop()
	case "ADD":
		if len(fields) != 6 {
			return Response{StatusCode: 400, Message: "usage: ADD <id> <name> <ip> <rale_port> <dstore_port>"}
		}
		id, err1 := strconv.Atoi(fields[1])
		ralePort, err2 := strconv.Atoi(fields[4])
		dstorePort, err3 := strconv.Atoi(fields[5])
		if err1 != nil || err2 != nil || err3 != nil {
			return Response{StatusCode: 400, Message: "invalid ADD arguments"}
		}
		return s.cmdAdd(int32(id), fields[2], fields[3], ralePort, dstorePort)
	case "REMOVE":
		if len(fields) != 2 {
			return Response{StatusCode: 400, Message: "usage: REMOVE <id>"}
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return Response{StatusCode: 400, Message: "invalid REMOVE id"}
		}
		return s.cmdRemove(int32(id))
	case "PUT":
		if len(fields) != 3 {
			return Response{StatusCode: 400, Message: "usage: PUT <key> <value>"}
		}
		return s.cmdPut(fields[1], fields[2])
	case "GET":
		if len(fields) != 2 {
			return Response{StatusCode: 400, Message: "usage: GET <key>"}
		}
		return s.cmdGet(fields[1])
	default:
		return Response{StatusCode: 400, Message: fmt.Sprintf("unknown command %q", fields[0])}
	}
}

func (s *Server) cmdStatus() Response {
	snap := s.deps.Machine.GetSnapshot()
	return ok(map[string]interface{}{
		"role":           snap.Role.String(),
		"term":           snap.CurrentTerm,
		"leader_id":      snap.LeaderID,
		"voted_for":      snap.VotedFor,
		"last_heartbeat": snap.LastHeartbeat,
		"deadline":       snap.ElectionDeadline,
	})
}

func (s *Server) cmdList() Response {
	nodes := s.deps.Registry.All()
	type entry struct {
		ID         int32  `json:"id"`
		Name       string `json:"name"`
		IP         string `json:"ip"`
		RalePort   uint16 `json:"rale_port"`
		DStorePort uint16 `json:"dstore_port"`
		Role       string `json:"role"`
	}
	out := make([]entry, len(nodes))
	for i, n := range nodes {
		out[i] = entry{n.ID, n.Name, n.IP, n.RalePort, n.DStorePort, n.State.String()}
	}
	return ok(out)
}

func (s *Server) cmdStop() Response {
	if s.deps.Shutdown != nil {
		go s.deps.Shutdown()
	}
	return ok(map[string]string{"status": "shutting down"})
}

func (s *Server) cmdAdd(id int32, name, ip string, ralePort, dstorePort int) Response {
	n := registry.Node{ID: id, Name: name, IP: ip, RalePort: uint16(ralePort), DStorePort: uint16(dstorePort)}
	if err := s.deps.Replicator.PropagateAdd(n); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (s *Server) cmdRemove(id int32) Response {
	if err := s.deps.Replicator.PropagateRemove(id); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (s *Server) cmdPut(key, value string) Response {
	if err := s.deps.Replicator.Put(key, value); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (s *Server) cmdGet(key string) Response {
	v, found := s.deps.Replicator.Get(key)
	if !found {
		return Response{StatusCode: 404, Message: "not found"}
	}
	return ok(map[string]string{"key": key, "value": v})
}
