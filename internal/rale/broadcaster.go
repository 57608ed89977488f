package rale

import "github.com/pgElephant/rale/internal/udpnet"

// PeerSource supplies the current peer list a broadcast goes out to.
// *registry.Registry does not satisfy it directly; callers wrap it in
// a small adapter, so internal/rale never imports internal/registry.
type PeerSource interface {
	Peers() []PeerAddr
}

// PeerAddr is the minimal addressing information a broadcast needs.
type PeerAddr struct {
	IP   string
	Port int
}

// UDPBroadcaster implements Broadcaster over a bound udpnet.Conn,
// sending each message to every peer reported by its PeerSource.
type UDPBroadcaster struct {
	Conn  *udpnet.Conn
	Peers PeerSource
}

// BroadcastRale sends msg to every current peer's RALE port.
func (b *UDPBroadcaster) BroadcastRale(msg Message) {
	encoded := []byte(msg.Encode())
	for _, p := range b.Peers.Peers() {
		_ = b.Conn.SendTo(encoded, p.IP, p.Port)
	}
}
