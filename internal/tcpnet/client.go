package tcpnet

import (
	"net"
	"time"

	"github.com/pgElephant/rale/internal/raleerr"
)

// Client is the persistent outbound connection to a peer.
type Client struct {
	addr            string
	conn            net.Conn
	acc             lineAccumulator
	isConnected     bool
	onReceive       func(line string)
	onDisconnection func()
}

// NewClient returns a not-yet-connected client for addr ("ip:port").
func NewClient(addr string, onReceive func(line string), onDisconnection func()) *Client {
	return &Client{addr: addr, onReceive: onReceive, onDisconnection: onDisconnection}
}

// Connect closes any stale connection, dials fresh, and marks the
// client connected on success.
func (c *Client) Connect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	conn, err := net.DialTimeout("tcp", c.addr, 2*time.Second)
	if err != nil {
		c.isConnected = false
		return raleerr.Wrap(raleerr.KindNetwork, "tcpnet", "connect failed", err).
			WithDetail(c.addr)
	}
	c.conn = conn
	c.acc = lineAccumulator{}
	c.isConnected = true
	return nil
}

// IsConnected reports the client's connection state.
func (c *Client) IsConnected() bool {
	return c.isConnected
}

// Send writes msg followed by a newline.
func (c *Client) Send(msg string) error {
	if !c.isConnected {
		return raleerr.New(raleerr.KindNetwork, "tcpnet", "send while disconnected").
			WithDetail(c.addr)
	}
	if _, err := c.conn.Write([]byte(msg + "\n")); err != nil {
		c.isConnected = false
		return raleerr.Wrap(raleerr.KindNetwork, "tcpnet", "send failed", err)
	}
	return nil
}

// Run performs one non-blocking receive and dispatch.
func (c *Client) Run() {
	if !c.isConnected {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))

	var buf [1024]byte
	n, err := c.conn.Read(buf[:])
	if n > 0 {
		for _, line := range c.acc.feed(buf[:n]) {
			if c.onReceive != nil {
				c.onReceive(line)
			}
		}
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		c.isConnected = false
		c.conn.Close()
		if c.onDisconnection != nil {
			c.onDisconnection()
		}
	}
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	c.isConnected = false
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Addr returns the configured "ip:port" target, for logging.
func (c *Client) Addr() string {
	return c.addr
}
