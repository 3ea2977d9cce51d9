package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/omochice/relay-chat/internal/chat"
)

// ProtocolID identifies chat streams.
const ProtocolID protocol.ID = "/chat/0"

// Handler runs a session over an accepted stream.
type Handler interface {
	HandleClient(ctx context.Context, conn chat.Conn)
}

// Host is a libp2p node that accepts or opens chat streams.
type Host struct {
	host host.Host
	log  *slog.Logger
}

// NewHost creates a node listening on listenAddrs, given as multiaddrs such as
// /ip4/0.0.0.0/tcp/4434. A node without listen addresses can only dial.
func NewHost(listenAddrs []string, log *slog.Logger) (*Host, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if len(listenAddrs) == 0 {
		opts = append(opts, libp2p.NoListenAddrs)
	} else {
		addrs := make([]multiaddr.Multiaddr, 0, len(listenAddrs))
		for _, s := range listenAddrs {
			addr, err := multiaddr.NewMultiaddr(s)
			if err != nil {
				return nil, fmt.Errorf("invalid listen address %q: %w", s, err)
			}
			addrs = append(addrs, addr)
		}
		opts = append(opts, libp2p.ListenAddrs(addrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	return &Host{host: h, log: log.With("peer", h.ID().String())}, nil
}

// ID returns the peer ID of the node.
func (h *Host) ID() string {
	return h.host.ID().String()
}

// Addrs returns the dialable addresses of the node, each ending in /p2p/<id>.
func (h *Host) Addrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: h.host.ID(), Addrs: h.host.Addrs()})
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.String()
	}
	return out
}

// Serve hands every inbound chat stream to handler until ctx is done.
func (h *Host) Serve(ctx context.Context, handler Handler) {
	h.host.SetStreamHandler(ProtocolID, func(stream network.Stream) {
		h.log.Debug("Accepted stream", "remote", stream.Conn().RemotePeer().String())
		handler.HandleClient(ctx, NewConn(stream))
	})
	h.log.Info("P2P transport listening", "addrs", h.Addrs())

	go func() {
		<-ctx.Done()
		h.host.RemoveStreamHandler(ProtocolID)
	}()
}

// Dial connects to the node at addr, a multiaddr ending in /p2p/<id>, and
// opens a chat stream.
func (h *Host) Dial(ctx context.Context, addr string) (*Conn, error) {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	if err := h.host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("failed to connect to peer: %w", err)
	}
	stream, err := h.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return NewConn(stream), nil
}

// Close shuts the node down.
func (h *Host) Close() error {
	return h.host.Close()
}
