package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brambleio/bramble/internal/host"
	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/ledger"
	"github.com/brambleio/bramble/internal/token"
	"github.com/brambleio/bramble/pkg/db/pebble"
	"github.com/brambleio/bramble/pkg/log"
	"github.com/brambleio/bramble/pkg/network"
	"github.com/brambleio/bramble/pkg/network/cert"
)

var tokenModuleID = ismp.ModuleID{'t', 'o', 'k', 'e', 'n', '-', 'x', 'f'}

// certValidity is generous because demo nodes mint a fresh key pair on boot.
const certValidity = 24 * time.Hour

// deferredModule breaks the construction cycle between a host and its module:
// the host hands out the dispatcher before the module exists.
type deferredModule struct {
	m **token.Module
}

func (d deferredModule) OnAccept(o ismp.Origin, r ismp.PostRequest) error {
	return (*d.m).OnAccept(o, r)
}
func (d deferredModule) OnPostResponse(o ismp.Origin, r ismp.PostResponse) error {
	return (*d.m).OnPostResponse(o, r)
}
func (d deferredModule) OnGetResponse(o ismp.Origin, r ismp.GetResponse) error {
	return (*d.m).OnGetResponse(o, r)
}
func (d deferredModule) OnPostTimeout(o ismp.Origin, r ismp.PostRequest) error {
	return (*d.m).OnPostTimeout(o, r)
}
func (d deferredModule) OnGetTimeout(o ismp.Origin, r ismp.GetRequest) error {
	return (*d.m).OnGetTimeout(o, r)
}

type chainNode struct {
	host   *host.Host
	module *token.Module
	ledger *ledger.Ledger
	node   *network.Node
	store  *pebble.Store
}

// persist writes the ledger back to the store, if one is configured. Callers
// hold the node's Sync lock.
func (c *chainNode) persist() error {
	if c.store == nil {
		return nil
	}
	return c.ledger.Snapshot(c.store)
}

func newChainNode(id ismp.StateMachine, listenAddr, dataDir string, sink token.EventSink) (*chainNode, error) {
	origin := ismp.Origin("host:" + string(id))

	var (
		h     *host.Host
		l     *ledger.Ledger
		store *pebble.Store
		err   error
	)
	if dataDir == "" {
		h, err = host.NewMem(host.Config{Self: id, Origin: origin, Clock: host.SystemClock})
		if err != nil {
			return nil, err
		}
		l = ledger.New()
	} else {
		store, err = pebble.NewStore(dataDir)
		if err != nil {
			return nil, err
		}
		h, err = host.New(host.Config{Self: id, Origin: origin, Clock: host.SystemClock}, store)
		if err != nil {
			return nil, err
		}
		l, err = ledger.Load(store)
		if err != nil {
			return nil, err
		}
	}

	var m *token.Module
	dispatcher := h.RegisterModule(tokenModuleID, deferredModule{&m})
	m = token.NewModule(token.Config{Host: origin, ModuleID: tokenModuleID}, l, dispatcher, sink)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	tlsCert, err := cert.Generate(pub, priv, certValidity)
	if err != nil {
		return nil, err
	}

	node, err := network.NewNode(network.Config{
		ListenAddr: listenAddr,
		TLSCert:    tlsCert,
		Host:       h,
	})
	if err != nil {
		return nil, err
	}
	if err := node.Start(); err != nil {
		return nil, err
	}

	return &chainNode{host: h, module: m, ledger: l, node: node, store: store}, nil
}

// go run main.go -chain chain-a -listen 127.0.0.1:9901 -peer 127.0.0.1:9902
func main() {
	chainID := flag.String("chain", "chain-a", "state machine identifier")
	listenAddr := flag.String("listen", "127.0.0.1:0", "address to listen on")
	peerAddr := flag.String("peer", "", "peer address to connect to")
	dataDir := flag.String("datadir", "", "data directory, in-memory when empty")
	logLevel := flag.String("loglevel", "info", "log level")
	demo := flag.Bool("demo", false, "run a two-chain transfer demo and exit")
	flag.Parse()

	level, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		log.Init(log.Options{Type: log.ConsoleLogger})
		log.Root.Fatal().Err(err).Msg("invalid log level")
	}
	log.Init(log.Options{LogLevel: level, Type: log.ConsoleLogger})

	if *demo {
		runDemo()
		return
	}

	cn, err := newChainNode(ismp.StateMachine(*chainID), *listenAddr, *dataDir, token.LogSink{Logger: log.Module})
	if err != nil {
		log.Root.Fatal().Err(err).Msg("failed to start node")
	}
	log.Root.Info().Str("chain", *chainID).Str("addr", cn.node.Addr()).Msg("node listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *peerAddr != "" {
		if err := cn.node.Connect(ctx, *peerAddr); err != nil {
			log.Root.Fatal().Err(err).Str("peer", *peerAddr).Msg("failed to connect to peer")
		}
		log.Root.Info().Str("peer", *peerAddr).Msg("connected")
	}

	// Periodically refund anything the peer never answered and write the
	// ledger back. Sweeps and snapshots go through the node's Sync lock so
	// they never race an inbound delivery.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := cn.node.Sync(func() error {
					if err := cn.host.SweepTimeouts(); err != nil {
						return err
					}
					return cn.persist()
				})
				if err != nil {
					log.Root.Warn().Err(err).Msg("timeout sweep failed")
				}
				if err := cn.node.Flush(ctx); err != nil {
					log.Root.Warn().Err(err).Msg("flush failed")
				}
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if err := cn.node.Sync(cn.persist); err != nil {
		log.Root.Warn().Err(err).Msg("failed to snapshot ledger")
	}
	if err := cn.node.Close(); err != nil {
		log.Root.Warn().Err(err).Msg("failed to close node")
	}
	if cn.store != nil {
		if err := cn.store.Close(); err != nil {
			log.Root.Warn().Err(err).Msg("failed to close store")
		}
	}
}

// mintSink forwards minted events to a channel on top of logging, so the
// demo can wait for delivery without polling state owned by another
// goroutine.
type mintSink struct {
	logs   token.LogSink
	minted chan token.Event
}

func (s mintSink) Emit(e token.Event) {
	s.logs.Emit(e)
	if e.Kind == token.EventBalanceMinted {
		select {
		case s.minted <- e:
		default:
		}
	}
}

// runDemo wires two in-memory chains over loopback QUIC and moves tokens
// from one to the other.
func runDemo() {
	alice := ismp.AccountID{0x0a}
	bob := ismp.AccountID{0x0b}

	sink := mintSink{logs: token.LogSink{Logger: log.Module}, minted: make(chan token.Event, 1)}

	chainA, err := newChainNode("chain-a", "127.0.0.1:0", "", token.LogSink{Logger: log.Module})
	if err != nil {
		log.Root.Fatal().Err(err).Msg("failed to start chain-a")
	}
	chainB, err := newChainNode("chain-b", "127.0.0.1:0", "", sink)
	if err != nil {
		log.Root.Fatal().Err(err).Msg("failed to start chain-b")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := chainA.node.Connect(ctx, chainB.node.Addr()); err != nil {
		log.Root.Fatal().Err(err).Msg("failed to connect chains")
	}

	if err := chainA.ledger.Credit(alice, 1000); err != nil {
		log.Root.Fatal().Err(err).Msg("failed to fund alice")
	}
	if err := chainA.module.Transfer(alice, token.TransferParams{
		To:               bob,
		Amount:           250,
		Dest:             "chain-b",
		TimeoutTimestamp: uint64(time.Now().Add(time.Hour).Unix()),
	}); err != nil {
		log.Root.Fatal().Err(err).Msg("transfer failed")
	}
	if err := chainA.node.Flush(ctx); err != nil {
		log.Root.Fatal().Err(err).Msg("flush failed")
	}

	select {
	case <-sink.minted:
	case <-time.After(10 * time.Second):
		log.Root.Fatal().Msg("transfer never arrived")
	}

	// Balances are owned by the nodes' stream handlers; read them under the
	// same locks.
	var aliceBalance, bobBalance uint64
	_ = chainA.node.Sync(func() error {
		aliceBalance = chainA.ledger.Balance(alice)
		return nil
	})
	_ = chainB.node.Sync(func() error {
		bobBalance = chainB.ledger.Balance(bob)
		return nil
	})

	log.Root.Info().
		Uint64("alice@chain-a", aliceBalance).
		Uint64("bob@chain-b", bobBalance).
		Msg("transfer complete")

	if err := chainA.node.Close(); err != nil {
		log.Root.Warn().Err(err).Msg("failed to close chain-a")
	}
	if err := chainB.node.Close(); err != nil {
		log.Root.Warn().Err(err).Msg("failed to close chain-b")
	}
}
