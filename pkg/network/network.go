// Package network relays canonically encoded protocol messages between two
// state machines over QUIC. Each node wraps a local host: inbound streams are
// fed into the host, and anything the host queues for delivery is flushed to
// the connected peer on fresh streams.
package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/brambleio/bramble/internal/host"
	"github.com/brambleio/bramble/pkg/log"
	"github.com/brambleio/bramble/pkg/network/cert"
)

// ProtocolID is the ALPN protocol identifier for relay connections.
const ProtocolID = "bramble/1"

// MaxIdleTimeout defines the maximum duration a connection can be idle before timing out
const MaxIdleTimeout = 30 * time.Minute

// Config contains the parameters for a relay Node.
type Config struct {
	ListenAddr string           // Address to listen on, e.g. "127.0.0.1:0"
	TLSCert    *tls.Certificate // Self-signed identity certificate
	Host       *host.Host       // Local host fed with inbound messages
}

// Node is a QUIC endpoint relaying messages between a local host and a single
// remote peer.
type Node struct {
	cfg      Config
	listener *quic.Listener

	mu   sync.Mutex // guards peer and all host access
	peer quic.Connection

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNode validates the configuration and creates a relay node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.TLSCert == nil {
		return nil, fmt.Errorf("%w: TLS certificate required", ErrInvalidCertificate)
	}
	if cfg.Host == nil {
		return nil, errors.New("host required")
	}
	if _, err := cert.Validate(cfg.TLSCert.Leaf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return &Node{cfg: cfg}, nil
}

// Start begins listening for peer connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.cfg.ListenAddr, n.tlsConfig(), &quic.Config{
		MaxIdleTimeout: MaxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.listener = listener
	n.done = make(chan struct{})
	go func() {
		n.acceptLoop()
		close(n.done)
	}()
	return nil
}

// Addr returns the address the node is listening on.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Connect dials a remote peer and begins relaying its streams.
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.ctx == nil {
		return ErrNotStarted
	}
	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig(), &quic.Config{
		MaxIdleTimeout: MaxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	n.setPeer(conn)
	go n.streamLoop(conn)
	return nil
}

// Sync runs fn under the same lock the stream handlers take before touching
// the host, so callers can read or mutate host-owned state (ledgers, timeout
// sweeps, snapshots) without racing inbound deliveries.
func (n *Node) Sync(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// Flush drains the local host's outbound queue and delivers each message to
// the connected peer on its own stream.
func (n *Node) Flush(ctx context.Context) error {
	n.mu.Lock()
	peer := n.peer
	items := n.cfg.Host.DrainOutbound()
	n.mu.Unlock()

	if peer == nil {
		if len(items) == 0 {
			return nil
		}
		return ErrNotConnected
	}

	for _, item := range items {
		if err := n.send(ctx, peer, item); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the listener and the peer connection.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}

	n.mu.Lock()
	if n.peer != nil {
		if err := n.peer.CloseWithError(0, ""); err != nil {
			log.Network.Warn().Err(err).Msg("failed to close peer connection")
		}
		n.peer = nil
	}
	n.mu.Unlock()

	if n.listener != nil {
		if err := n.listener.Close(); err != nil {
			return fmt.Errorf("failed to close listener: %w", err)
		}
	}
	if n.done != nil {
		<-n.done
	}
	return nil
}

func (n *Node) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{*n.cfg.TLSCert},
		NextProtos:         []string{ProtocolID},
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no peer certificate provided", ErrInvalidCertificate)
			}
			c, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			if _, err := cert.Validate(c); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			return nil
		},
	}
}

func (n *Node) setPeer(conn quic.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peer != nil {
		if err := n.peer.CloseWithError(0, "replaced"); err != nil {
			log.Network.Warn().Err(err).Msg("failed to close replaced connection")
		}
	}
	n.peer = conn
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			log.Network.Warn().Err(err).Msg("failed to accept connection")
			continue
		}
		n.setPeer(conn)
		go n.streamLoop(conn)
	}
}

// streamLoop accepts streams from a peer connection and feeds each message
// into the local host.
func (n *Node) streamLoop(conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(n.ctx)
		if err != nil {
			if n.ctx.Err() == nil {
				log.Network.Debug().Err(err).Msg("stream accept ended")
			}
			return
		}
		go n.handleStream(stream)
	}
}

func (n *Node) handleStream(stream quic.Stream) {
	defer func() {
		if err := stream.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("failed to close stream")
		}
	}()

	msg, err := ReadMessage(stream)
	if err != nil {
		log.Network.Warn().Err(err).Msg("failed to read message")
		return
	}

	n.mu.Lock()
	err = n.cfg.Host.Receive(host.MessageKind(msg.Kind), msg.Payload)
	n.mu.Unlock()
	if err != nil {
		// Stale deliveries are expected once a request has resolved locally.
		if errors.Is(err, host.ErrExpired) || errors.Is(err, host.ErrAlreadyResolved) {
			log.Network.Debug().Err(err).Uint8("kind", msg.Kind).Msg("dropped stale message")
			return
		}
		log.Network.Warn().Err(err).Uint8("kind", msg.Kind).Msg("failed to process message")
		return
	}

	// Receiving may queue replies, e.g. a get response; push them back out.
	if err := n.Flush(n.ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Network.Warn().Err(err).Msg("failed to flush after receive")
	}
}

func (n *Node) send(ctx context.Context, peer quic.Connection, item host.OutboundItem) error {
	stream, err := peer.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Network.Debug().Err(err).Msg("failed to close stream")
		}
	}()

	return WriteMessage(stream, Message{Kind: byte(item.Kind), Payload: item.Payload})
}
