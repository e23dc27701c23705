package snp2p

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// AnnounceTopic carries newly approved blink transactions to any
// subscribed node, quorum member or not.
const AnnounceTopic = "/quorumnet/blink-approved"

type Config struct {
	// ListenAddrs are the multiaddrs to listen on.
	ListenAddrs []string

	// BootstrapPeers are multiaddrs (with peer IDs) dialed at startup
	// to seed peer routing.
	BootstrapPeers []string

	// ProtocolPrefix namespaces the command stream protocols and the
	// DHT.
	ProtocolPrefix string

	// MaxMessageSize bounds a single inbound command payload.
	MaxMessageSize int64

	// Recognize reports whether a remote network identity belongs to
	// a registered service node. Nil means no remote does.
	Recognize func(remoteID string) bool
}

func DefaultConfig() Config {
	return Config{
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
		ProtocolPrefix: "/quorumnet",
		MaxMessageSize: 4 << 20,
	}
}

// Host is the libp2p-backed transport: command streams between
// service nodes, kademlia peer routing, and the gossip announce topic.
type Host struct {
	log *slog.Logger
	cfg Config

	// Base context for inbound handler invocations; handlers stop
	// doing work once the host's lifecycle ends.
	ctx context.Context

	h     host.Host
	dht   *dht.IpfsDHT
	ps    *pubsub.PubSub
	topic *pubsub.Topic
}

var (
	_ Sender  = (*Host)(nil)
	_ Replier = (*Host)(nil)
)

func NewHost(ctx context.Context, log *slog.Logger, cfg Config) (*Host, error) {
	if cfg.ProtocolPrefix == "" {
		cfg.ProtocolPrefix = DefaultConfig().ProtocolPrefix
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultConfig().MaxMessageSize
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	kdht, err := dht.New(ctx, h,
		dht.ProtocolPrefix(protocol.ID(cfg.ProtocolPrefix)),
		dht.Mode(dht.ModeServer),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating DHT: %w", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		kdht.Close()
		h.Close()
		return nil, fmt.Errorf("bootstrapping DHT: %w", err)
	}

	for _, addr := range cfg.BootstrapPeers {
		ai, err := peer.AddrInfoFromString(addr)
		if err != nil {
			kdht.Close()
			h.Close()
			return nil, fmt.Errorf("parsing bootstrap peer %q: %w", addr, err)
		}
		if err := h.Connect(ctx, *ai); err != nil {
			// Bootstrap peers are best-effort; others may succeed.
			log.Warn("Failed to connect to bootstrap peer", "addr", addr, "err", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		kdht.Close()
		h.Close()
		return nil, fmt.Errorf("creating gossipsub: %w", err)
	}
	topic, err := ps.Join(AnnounceTopic)
	if err != nil {
		kdht.Close()
		h.Close()
		return nil, fmt.Errorf("joining announce topic: %w", err)
	}

	return &Host{
		log:   log,
		cfg:   cfg,
		ctx:   ctx,
		h:     h,
		dht:   kdht,
		ps:    ps,
		topic: topic,
	}, nil
}

// ID returns the local network identity.
func (ho *Host) ID() string {
	return ho.h.ID().String()
}

// Addrs returns the listen multiaddrs with the peer identity appended,
// suitable as connect addresses for other nodes.
func (ho *Host) Addrs() []string {
	id := ho.h.ID()
	out := make([]string, 0, len(ho.h.Addrs()))
	for _, a := range ho.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, id))
	}
	return out
}

func (ho *Host) protocolID(cmd string) protocol.ID {
	return protocol.ID(ho.cfg.ProtocolPrefix + "/" + cmd)
}

// RegisterHandler routes inbound cmd streams to fn. Register every
// handler before the first peers connect.
func (ho *Host) RegisterHandler(cmd string, fn HandlerFunc) {
	ho.h.SetStreamHandler(ho.protocolID(cmd), func(s network.Stream) {
		defer s.Close()

		data, err := io.ReadAll(io.LimitReader(s, ho.cfg.MaxMessageSize+1))
		if err != nil {
			ho.log.Debug("Failed to read inbound command", "cmd", cmd, "err", err)
			return
		}
		if int64(len(data)) > ho.cfg.MaxMessageSize {
			ho.log.Warn("Dropping oversized inbound command", "cmd", cmd, "from", s.Conn().RemotePeer())
			return
		}

		remote := s.Conn().RemotePeer().String()
		fn(ho.ctx, Message{
			Cmd:      cmd,
			Data:     data,
			ConnID:   remote,
			RemoteID: remote,
			FromSN:   ho.cfg.Recognize != nil && ho.cfg.Recognize(remote),
		})
	})
}

func (ho *Host) send(ctx context.Context, pid peer.ID, cmd string, data []byte) error {
	s, err := ho.h.NewStream(ctx, pid, ho.protocolID(cmd))
	if err != nil {
		return fmt.Errorf("opening %s stream to %s: %w", cmd, pid, err)
	}
	defer s.Close()

	if _, err := s.Write(data); err != nil {
		s.Reset()
		return fmt.Errorf("writing %s to %s: %w", cmd, pid, err)
	}
	return s.CloseWrite()
}

func (ho *Host) SendStrong(ctx context.Context, netID, connectAddr, cmd string, data []byte) error {
	pid, err := peer.Decode(netID)
	if err != nil {
		return fmt.Errorf("invalid remote identity %q: %w", netID, err)
	}

	if ho.h.Network().Connectedness(pid) != network.Connected && connectAddr != "" {
		ai, err := peer.AddrInfoFromString(connectAddr)
		if err != nil {
			return fmt.Errorf("invalid connect address %q: %w", connectAddr, err)
		}
		if err := ho.h.Connect(ctx, *ai); err != nil {
			return fmt.Errorf("connecting to %s: %w", connectAddr, err)
		}
	}
	return ho.send(ctx, pid, cmd, data)
}

func (ho *Host) SendWeak(ctx context.Context, netID, cmd string, data []byte) error {
	pid, err := peer.Decode(netID)
	if err != nil {
		return fmt.Errorf("invalid remote identity %q: %w", netID, err)
	}
	if ho.h.Network().Connectedness(pid) != network.Connected {
		return nil
	}
	return ho.send(ctx, pid, cmd, data)
}

func (ho *Host) Reply(ctx context.Context, connID, cmd string, data []byte) error {
	pid, err := peer.Decode(connID)
	if err != nil {
		return fmt.Errorf("invalid connection identity %q: %w", connID, err)
	}
	if ho.h.Network().Connectedness(pid) != network.Connected {
		return ErrNotConnected
	}
	return ho.send(ctx, pid, cmd, data)
}

// AnnounceApproved publishes a newly approved blink tx hash on the
// gossip topic.
func (ho *Host) AnnounceApproved(ctx context.Context, data []byte) error {
	return ho.topic.Publish(ctx, data)
}

// ApprovedNotifications subscribes to approved-blink announcements
// from other nodes. The channel closes when ctx ends.
func (ho *Host) ApprovedNotifications(ctx context.Context) (<-chan []byte, error) {
	sub, err := ho.topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribing to announce topic: %w", err)
	}

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		defer sub.Cancel()
		for {
			m, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if m.ReceivedFrom == ho.h.ID() {
				continue
			}
			select {
			case ch <- m.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (ho *Host) Close() error {
	ho.topic.Close()
	if err := ho.dht.Close(); err != nil {
		ho.h.Close()
		return err
	}
	return ho.h.Close()
}
