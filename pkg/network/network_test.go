package network_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brambleio/bramble/internal/host"
	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/ledger"
	"github.com/brambleio/bramble/internal/token"
	"github.com/brambleio/bramble/pkg/network"
	"github.com/brambleio/bramble/pkg/network/cert"
)

var (
	moduleID = ismp.ModuleID{'t', 'o', 'k', 'e', 'n', '-', 'x', 'f'}
	alice    = ismp.AccountID{0x0a}
	bob      = ismp.AccountID{0x0b}
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := network.Message{Kind: 2, Payload: []byte("hello")}
	require.NoError(t, network.WriteMessage(&buf, msg))

	decoded, err := network.ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, msg.Kind, decoded.Kind)
	require.Equal(t, msg.Payload, decoded.Payload)
}

func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, network.WriteMessage(&buf, network.Message{Kind: 1, Payload: []byte("payload")}))

	truncated := buf.Bytes()[:buf.Len()-3]
	_, err := network.ReadMessage(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestNewNodeRejectsMissingCert(t *testing.T) {
	h, err := host.NewMem(host.Config{Self: "chain-a", Origin: "host:chain-a", Clock: host.SystemClock})
	require.NoError(t, err)

	_, err = network.NewNode(network.Config{ListenAddr: "127.0.0.1:0", Host: h})
	require.ErrorIs(t, err, network.ErrInvalidCertificate)
}

// chanSink signals minted events so tests can wait for an inbound delivery
// instead of polling ledger state owned by the node's stream handlers.
type chanSink struct {
	minted chan token.Event
}

func newChanSink() chanSink {
	return chanSink{minted: make(chan token.Event, 8)}
}

func (s chanSink) Emit(e token.Event) {
	if e.Kind == token.EventBalanceMinted {
		select {
		case s.minted <- e:
		default:
		}
	}
}

type moduleProxy struct {
	m **token.Module
}

func (p moduleProxy) OnAccept(o ismp.Origin, r ismp.PostRequest) error { return (*p.m).OnAccept(o, r) }
func (p moduleProxy) OnPostResponse(o ismp.Origin, r ismp.PostResponse) error {
	return (*p.m).OnPostResponse(o, r)
}
func (p moduleProxy) OnGetResponse(o ismp.Origin, r ismp.GetResponse) error {
	return (*p.m).OnGetResponse(o, r)
}
func (p moduleProxy) OnPostTimeout(o ismp.Origin, r ismp.PostRequest) error {
	return (*p.m).OnPostTimeout(o, r)
}
func (p moduleProxy) OnGetTimeout(o ismp.Origin, r ismp.GetRequest) error {
	return (*p.m).OnGetTimeout(o, r)
}

func newTestNode(t *testing.T, id ismp.StateMachine, sink token.EventSink) (*network.Node, *token.Module, *ledger.Ledger) {
	t.Helper()

	h, err := host.NewMem(host.Config{
		Self:   id,
		Origin: ismp.Origin("host:" + string(id)),
		Clock:  host.SystemClock,
	})
	require.NoError(t, err)

	l := ledger.New()
	var m *token.Module
	dispatcher := h.RegisterModule(moduleID, moduleProxy{&m})
	m = token.NewModule(token.Config{Host: ismp.Origin("host:" + string(id)), ModuleID: moduleID}, l, dispatcher, sink)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	tlsCert, err := cert.Generate(pub, priv, time.Hour)
	require.NoError(t, err)

	node, err := network.NewNode(network.Config{
		ListenAddr: "127.0.0.1:0",
		TLSCert:    tlsCert,
		Host:       h,
	})
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() {
		require.NoError(t, node.Close())
	})

	return node, m, l
}

func TestTransferOverQUIC(t *testing.T) {
	sinkB := newChanSink()
	nodeA, moduleA, ledgerA := newTestNode(t, "chain-a", newChanSink())
	nodeB, _, ledgerB := newTestNode(t, "chain-b", sinkB)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, nodeA.Connect(ctx, nodeB.Addr()))

	// The setup phase owns the ledgers and hosts; once messages are in
	// flight every read goes through the nodes' Sync lock since the stream
	// handlers mutate the same state.
	require.NoError(t, ledgerA.Credit(alice, 100))
	require.NoError(t, moduleA.Transfer(alice, token.TransferParams{
		To:               bob,
		Amount:           40,
		Dest:             "chain-b",
		TimeoutTimestamp: uint64(time.Now().Unix()) + 3600,
	}))
	require.Equal(t, uint64(60), ledgerA.Balance(alice))

	require.NoError(t, nodeA.Flush(ctx))

	select {
	case e := <-sinkB.minted:
		require.Equal(t, bob, e.Account)
		require.Equal(t, uint64(40), e.Amount)
	case <-time.After(5 * time.Second):
		t.Fatal("destination never minted")
	}

	var bobBalance, supplyB uint64
	require.NoError(t, nodeB.Sync(func() error {
		bobBalance = ledgerB.Balance(bob)
		supplyB = ledgerB.TotalSupply()
		return nil
	}))
	require.Equal(t, uint64(40), bobBalance)
	require.Equal(t, uint64(40), supplyB)

	// The acknowledgment flows back without disturbing the source balance.
	var aliceBalance uint64
	require.NoError(t, nodeA.Sync(func() error {
		aliceBalance = ledgerA.Balance(alice)
		return nil
	}))
	require.Equal(t, uint64(60), aliceBalance)
}
