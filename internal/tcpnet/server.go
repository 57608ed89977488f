// Package tcpnet implements the TCP server/client pool: up to
// MAX_CLIENTS accepted sockets with line framing, driven
// by one cooperative tick per scheduler iteration, plus a persistent
// outbound client with reconnect. Grounded on pkg/rpc/transport.go's
// LocalTransport for the connection bookkeeping shape, generalized
// from an in-memory fake to real net.Listen/net.Dial. Go exposes no
// select(2) directly on net.Conn; each tick polls every tracked slot
// with a short SetReadDeadline instead, preserving a
// single-threaded, non-reentrant dispatch (no goroutine per
// connection).
package tcpnet

import (
	"fmt"
	"net"
	"time"

	"github.com/pgElephant/rale/internal/raleerr"
)

// MaxClients is the fixed number of accepted-connection slots.
const MaxClients = 5

// OnConnection is invoked when a new client occupies a slot.
type OnConnection func(slot int, ip string, port int)

// OnLine is invoked once per complete newline-terminated message.
type OnLine func(slot int, line string)

// OnDisconnection is invoked when a slot's connection closes.
type OnDisconnection func(slot int, ip string, port int)

type slot struct {
	conn   net.Conn
	ip     string
	port   int
	acc    lineAccumulator
	active bool
}

// Server is the select-loop TCP server.
type Server struct {
	listener        net.Listener
	slots           [MaxClients]slot
	onConnection    OnConnection
	onLine          OnLine
	onDisconnection OnDisconnection
	pollTimeout     time.Duration
}

// NewServer listens on port with backlog semantics provided by the Go
// runtime (an explicit backlog of 10 and SO_REUSEADDR are socket
// options the standard library's net.Listen already applies
// idiomatically; no direct equivalent knob is exposed, so the default
// listen backlog is used).
func NewServer(port int, onConnection OnConnection, onLine OnLine, onDisconnection OnDisconnection) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, raleerr.Wrap(raleerr.KindNetwork, "tcpnet", "listen failed", err).
			WithDetail(fmt.Sprintf("port=%d", port))
	}
	return &Server{
		listener:        ln,
		onConnection:    onConnection,
		onLine:          onLine,
		onDisconnection: onDisconnection,
		pollTimeout:     100 * time.Millisecond,
	}, nil
}

// SetCallbacks installs (or replaces) all three event callbacks. Used
// when a server must be bound to learn its ephemeral port before the
// components its callbacks close over exist yet.
func (s *Server) SetCallbacks(onConnection OnConnection, onLine OnLine, onDisconnection OnDisconnection) {
	s.onConnection = onConnection
	s.onLine = onLine
	s.onDisconnection = onDisconnection
}

// SetPollTimeout changes the per-slot read-deadline budget (100ms by
// default). Nothing in the module shortens it during shutdown.
func (s *Server) SetPollTimeout(d time.Duration) {
	s.pollTimeout = d
}

// LocalPort returns the bound local port (useful for ephemeral ports
// in tests).
func (s *Server) LocalPort() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Tick performs one non-blocking accept attempt and one poll of every
// occupied slot, emitting complete lines and connection events
// driving the replicator's server-side tick.
func (s *Server) Tick() {
	s.tryAccept()
	for i := range s.slots {
		if s.slots[i].active {
			s.pollSlot(i)
		}
	}
}

func (s *Server) tryAccept() {
	if tcpLn, ok := s.listener.(*net.TCPListener); ok {
		_ = tcpLn.SetDeadline(time.Now().Add(1 * time.Millisecond))
	}
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}

	freeIdx := -1
	for i := range s.slots {
		if !s.slots[i].active {
			freeIdx = i
			break
		}
	}
	if freeIdx == -1 {
		conn.Close()
		return
	}

	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	s.slots[freeIdx] = slot{
		conn:   conn,
		ip:     host,
		port:   port,
		active: true,
	}
	if s.onConnection != nil {
		s.onConnection(freeIdx, host, port)
	}
}

func (s *Server) pollSlot(i int) {
	sl := &s.slots[i]
	_ = sl.conn.SetReadDeadline(time.Now().Add(s.pollTimeout))

	var buf [1024]byte
	n, err := sl.conn.Read(buf[:])
	if n > 0 {
		for _, line := range sl.acc.feed(buf[:n]) {
			if s.onLine != nil {
				s.onLine(i, line)
			}
		}
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		s.closeSlot(i)
	}
}

func (s *Server) closeSlot(i int) {
	sl := &s.slots[i]
	ip, port := sl.ip, sl.port
	sl.conn.Close()
	*sl = slot{}
	if s.onDisconnection != nil {
		s.onDisconnection(i, ip, port)
	}
}

// Send writes msg followed by a newline to the given slot.
func (s *Server) Send(slotIdx int, msg string) error {
	sl := &s.slots[slotIdx]
	if !sl.active {
		return raleerr.New(raleerr.KindNetwork, "tcpnet", "send to inactive slot")
	}
	if _, err := sl.conn.Write([]byte(msg)); err != nil {
		return raleerr.Wrap(raleerr.KindNetwork, "tcpnet", "send failed", err)
	}
	if _, err := sl.conn.Write([]byte("\n")); err != nil {
		return raleerr.Wrap(raleerr.KindNetwork, "tcpnet", "send failed", err)
	}
	return nil
}

// Close shuts down the listener and every active slot.
func (s *Server) Close() error {
	for i := range s.slots {
		if s.slots[i].active {
			s.closeSlot(i)
		}
	}
	return s.listener.Close()
}
