// Command raled is the RALE/DStore node daemon: it loads configuration,
// wires every internal component, and drives the cooperative tick loop
// until an interrupt or the control socket's STOP command.
//
// Grounded on cmd/server/main.go's flag-parsing/wiring/signal-handling/
// graceful-shutdown sequence, generalized from a single gRPC+HTTP node
// to RALE/DStore's UDP+TCP+Unix-socket component set and upgraded from
// the standard flag package to cobra subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pgElephant/rale/internal/config"
	"github.com/pgElephant/rale/internal/control"
	"github.com/pgElephant/rale/internal/dstore"
	"github.com/pgElephant/rale/internal/kv"
	"github.com/pgElephant/rale/internal/rale"
	"github.com/pgElephant/rale/internal/registry"
	"github.com/pgElephant/rale/internal/rtlog"
	"github.com/pgElephant/rale/internal/scheduler"
	"github.com/pgElephant/rale/internal/statestore"
	"github.com/pgElephant/rale/internal/tcpnet"
	"github.com/pgElephant/rale/internal/udpnet"
)

var (
	flagConfigPath string
	flagNodeID     int32
	flagNodeName   string
	flagNodeIP     string
	flagRalePort   int
	flagDStorePort int
	flagDBPath     string
	flagSocket     string
	flagPeers      string
)

func main() {
	root := &cobra.Command{
		Use:           "raled",
		Short:         "RALE/DStore cluster node daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}

	root.Flags().StringVar(&flagConfigPath, "config", "", "path to a TOML/YAML config file")
	root.Flags().Int32Var(&flagNodeID, "node-id", 0, "this node's id (overrides config)")
	root.Flags().StringVar(&flagNodeName, "node-name", "", "this node's name (overrides config)")
	root.Flags().StringVar(&flagNodeIP, "node-ip", "", "this node's advertised IP (overrides config)")
	root.Flags().IntVar(&flagRalePort, "rale-port", 0, "UDP port for RALE (overrides config)")
	root.Flags().IntVar(&flagDStorePort, "dstore-port", 0, "TCP port for DStore (overrides config)")
	root.Flags().StringVar(&flagDBPath, "db-path", "", "directory for cluster.state/rale.state/rale.db (overrides config)")
	root.Flags().StringVar(&flagSocket, "socket", "", "control socket path (overrides config)")
	root.Flags().StringVar(&flagPeers, "peers", "", "comma-separated bootstrap peers: id=ip:rale_port:dstore_port")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(&cfg)

	rtlog.SetLevel(cfg.LogLevel)
	log := rtlog.New("raled")
	log.Info().Int32("node_id", cfg.NodeID).Str("node_name", cfg.NodeName).Msg("starting")

	if err := os.MkdirAll(cfg.DBPath, 0755); err != nil {
		return fmt.Errorf("creating db path %s: %w", cfg.DBPath, err)
	}

	reg := registry.New()
	if err := reg.Load(filepath.Join(cfg.DBPath, "cluster.state")); err != nil {
		return fmt.Errorf("loading cluster.state: %w", err)
	}
	if reg.GetSelf() == -1 {
		reg.SetSelf(cfg.NodeID)
		if err := reg.Add(cfg.NodeID, cfg.NodeName, cfg.NodeIP, uint16(cfg.RalePort), uint16(cfg.DStorePort)); err != nil {
			return fmt.Errorf("registering self: %w", err)
		}
		for _, n := range parsePeers(flagPeers) {
			if n.ID == cfg.NodeID {
				continue
			}
			if err := reg.Add(n.ID, n.Name, n.IP, n.RalePort, n.DStorePort); err != nil {
				log.Warn().Err(err).Int32("peer_id", n.ID).Msg("failed to add bootstrap peer")
			}
		}
	}

	raleFile := statestore.NewRaleStateFile(filepath.Join(cfg.DBPath, "rale.state"))
	journal, err := statestore.NewJournalFile(filepath.Join(cfg.DBPath, "rale.db"))
	if err != nil {
		return fmt.Errorf("opening rale.db: %w", err)
	}
	defer journal.Close()

	table := kv.New()
	replayed, err := journal.Replay()
	if err != nil {
		return fmt.Errorf("replaying rale.db: %w", err)
	}
	for key, value := range replayed {
		if err := table.Put([]byte(key), []byte(value)); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping oversized replayed entry")
		}
	}
	log.Info().Int("keys", len(replayed)).Msg("replayed rale.db")

	heartbeatInterval := time.Duration(cfg.DStoreKeepAliveIntervalSeconds) * time.Second
	electionTimeout := time.Duration(cfg.DStoreKeepAliveTimeoutSeconds) * time.Second
	machine := rale.NewMachine(cfg.NodeID, reg.Count(), heartbeatInterval, electionTimeout)

	persisted, err := raleFile.Read()
	if err != nil {
		return fmt.Errorf("reading rale.state: %w", err)
	}
	machine.LoadPersisted(persisted.CurrentTerm, persisted.VotedFor, persisted.LeaderID)

	repl := dstore.NewReplicator(cfg.NodeID, table, journal, raleFile, reg,
		time.Duration(cfg.DStoreKeepAliveIntervalSeconds)*time.Second, machine.GetCurrentTerm, machine.SetNodeCount)

	tcpServer, err := tcpnet.NewServer(cfg.DStorePort, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("binding dstore port %d: %w", cfg.DStorePort, err)
	}
	repl.AttachServer(tcpServer)
	tcpServer.SetCallbacks(
		func(slot int, ip string, port int) {},
		repl.HandleServerLine,
		func(slot int, ip string, port int) { repl.HandleServerDisconnection(slot) },
	)
	for _, peer := range reg.Peers() {
		repl.EnsurePeerLink(peer)
	}

	udpConn, err := udpnet.ServerInit(cfg.RalePort, nil)
	if err != nil {
		return fmt.Errorf("binding rale port %d: %w", cfg.RalePort, err)
	}
	broadcaster := &rale.UDPBroadcaster{Conn: udpConn, Peers: regPeerSource{reg}}
	onElected := func(term uint32, leaderID int32) {
		_ = raleFile.UpdateLeader(term, leaderID)
		repl.BroadcastLeaderSnapshot(term, leaderID)
	}
	udpConn.SetOnReceive(raleReceiveHandler(machine, raleFile, broadcaster, onElected, log))

	ctx, cancel := context.WithCancel(context.Background())
	var shutdownOnce sync.Once
	requestShutdown := func() { shutdownOnce.Do(cancel) }

	ctlServer, err := control.NewServer(cfg.CommunicationSocket, control.Dependencies{
		Machine: machine, Replicator: repl, Registry: reg, Shutdown: requestShutdown,
	})
	if err != nil {
		return fmt.Errorf("binding control socket %s: %w", cfg.CommunicationSocket, err)
	}
	go ctlServer.Serve()

	sched := scheduler.New(udpConn, machine, repl, raleFile)
	go sched.Run(ctx, broadcaster)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested over control socket")
	}
	requestShutdown()

	select {
	case <-sched.Done():
	case <-time.After(5 * time.Second):
		log.Warn().Msg("scheduler did not drain within 5s")
	}

	ctlServer.Close()
	udpConn.Close()
	tcpServer.Close()
	log.Info().Msg("shutdown complete")
	return nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flagNodeID != 0 {
		cfg.NodeID = flagNodeID
	}
	if flagNodeName != "" {
		cfg.NodeName = flagNodeName
	}
	if flagNodeIP != "" {
		cfg.NodeIP = flagNodeIP
	}
	if flagRalePort != 0 {
		cfg.RalePort = flagRalePort
	}
	if flagDStorePort != 0 {
		cfg.DStorePort = flagDStorePort
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagSocket != "" {
		cfg.CommunicationSocket = flagSocket
	}
}

// parsePeers parses "id=ip:rale_port:dstore_port,..." into registry
// nodes, generalized from a single-port "id=addr" peer-list flag to
// RALE/DStore's two-port addressing.
func parsePeers(raw string) []registry.Node {
	if raw == "" {
		return nil
	}
	var out []registry.Node
	for _, entry := range strings.Split(raw, ",") {
		idAndAddr := strings.SplitN(entry, "=", 2)
		if len(idAndAddr) != 2 {
			continue
		}
		id, err := strconv.Atoi(idAndAddr[0])
		if err != nil {
			continue
		}
		parts := strings.Split(idAndAddr[1], ":")
		if len(parts) != 3 {
			continue
		}
		ralePort, err1 := strconv.Atoi(parts[1])
		dstorePort, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, registry.Node{
			ID: int32(id), Name: fmt.Sprintf("node%d", id), IP: parts[0],
			RalePort: uint16(ralePort), DStorePort: uint16(dstorePort), IsVotingMember: true,
		})
	}
	return out
}

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

// raleReceiveHandler adapts Machine.HandleMessage into a udpnet
// OnReceive callback: parse, dispatch, and reply to the sender if the
// message warrants one.
func raleReceiveHandler(m *rale.Machine, persist *statestore.RaleStateFile, bc *rale.UDPBroadcaster, onElected rale.ElectionWon, log zerolog.Logger) udpnet.OnReceive {
	return func(raw []byte, senderIP string, senderPort int) {
		msg, err := rale.ParseMessage(raw)
		if err != nil {
			log.Debug().Err(err).Str("from", senderIP).Msg("dropping malformed datagram")
			return
		}
		reply, ok := m.HandleMessage(msg, persist, bc, onElected)
		if ok {
			_ = bc.Conn.SendTo([]byte(reply.Encode()), senderIP, senderPort)
		}
	}
}
