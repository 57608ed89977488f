// Package udpnet implements the UDP transport: bind, send-to, and a
// single non-blocking receive per call that dispatches
// to a handler. Grounded on pkg/rpc/transport.go's LocalTransport for
// the callback/dispatch shape; the socket code itself is new, built
// directly on net.UDPConn.
package udpnet

import (
	"fmt"
	"net"
	"time"

	"github.com/pgElephant/rale/internal/raleerr"
)

const bufferSize = 1024

// OnReceive is invoked once per datagram with the message bytes and
// the sender's address.
type OnReceive func(message []byte, senderIP string, senderPort int)

// Conn wraps a bound UDP socket plus its receive callback.
type Conn struct {
	sock      *net.UDPConn
	onReceive OnReceive
}

// ServerInit binds to the given port on all interfaces and stores the
// receive callback.
func ServerInit(port int, onReceive OnReceive) (*Conn, error) {
	addr := &net.UDPAddr{Port: port}
	sock, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, raleerr.Wrap(raleerr.KindNetwork, "udpnet", "bind failed", err).
			WithDetail(fmt.Sprintf("port=%d", port))
	}
	return &Conn{sock: sock, onReceive: onReceive}, nil
}

// SetOnReceive installs (or replaces) the receive callback. Used when a
// conn must be bound before the components its callback closes over
// exist yet (test harnesses wiring a shared peer-port table before any
// single node's Machine is constructed).
func (c *Conn) SetOnReceive(onReceive OnReceive) {
	c.onReceive = onReceive
}

// SendTo transmits msg as a single datagram to ip:port.
func (c *Conn) SendTo(msg []byte, ip string, port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	_, err := c.sock.WriteToUDP(msg, addr)
	if err != nil {
		return raleerr.Wrap(raleerr.KindNetwork, "udpnet", "sendto failed", err).
			WithDetail(fmt.Sprintf("dest=%s:%d", ip, port))
	}
	return nil
}

// ProcessMessages performs one non-blocking receive attempt. Go's net
// package has no native non-blocking recvfrom, so a read deadline one
// millisecond ahead is used to make exactly one read attempt return
// promptly when no datagram is queued (a deadline already in the past
// would fail the read without attempting it).
func (c *Conn) ProcessMessages() {
	buf := make([]byte, bufferSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, addr, err := c.sock.ReadFromUDP(buf)
	if err != nil {
		return
	}
	if n == 0 || c.onReceive == nil {
		return
	}
	c.onReceive(buf[:n], addr.IP.String(), addr.Port)
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// LocalPort returns the bound local port, useful when port 0 was
// requested (ephemeral ports in tests).
func (c *Conn) LocalPort() int {
	return c.sock.LocalAddr().(*net.UDPAddr).Port
}
