package ledger_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/ledger"
	"github.com/brambleio/bramble/pkg/db/pebble"
)

var (
	alice = ismp.AccountID{0x0a}
	bob   = ismp.AccountID{0x0b}
)

// requireConserved asserts totalSupply == sum of all balances.
func requireConserved(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	var sum uint64
	for _, account := range l.Accounts() {
		sum += l.Balance(account)
	}
	require.Equal(t, l.TotalSupply(), sum)
}

func TestCreditDebit(t *testing.T) {
	l := ledger.New()

	require.NoError(t, l.Credit(alice, 100))
	require.Equal(t, uint64(100), l.Balance(alice))
	require.Equal(t, uint64(100), l.TotalSupply())
	requireConserved(t, l)

	require.NoError(t, l.Debit(alice, 30))
	require.Equal(t, uint64(70), l.Balance(alice))
	require.Equal(t, uint64(70), l.TotalSupply())
	requireConserved(t, l)
}

func TestDebitInsufficientBalance(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Credit(alice, 10))

	err := l.Debit(alice, 11)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// Failed debit leaves both counters untouched
	require.Equal(t, uint64(10), l.Balance(alice))
	require.Equal(t, uint64(10), l.TotalSupply())
	requireConserved(t, l)
}

func TestDebitUnknownAccount(t *testing.T) {
	l := ledger.New()
	require.ErrorIs(t, l.Debit(bob, 1), ledger.ErrInsufficientBalance)
	require.Equal(t, uint64(0), l.TotalSupply())
}

func TestCreditOverflow(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Credit(alice, math.MaxUint64))

	err := l.Credit(alice, 1)
	require.ErrorIs(t, err, ledger.ErrOverflow)
	require.Equal(t, uint64(math.MaxUint64), l.Balance(alice))
	requireConserved(t, l)

	// Supply overflow with distinct accounts
	err = l.Credit(bob, 1)
	require.ErrorIs(t, err, ledger.ErrOverflow)
	require.Equal(t, uint64(0), l.Balance(bob))
	requireConserved(t, l)
}

func TestZeroAmountIsNoOp(t *testing.T) {
	l := ledger.New()

	require.NoError(t, l.Credit(alice, 0))
	require.NoError(t, l.Debit(alice, 0))
	require.Equal(t, uint64(0), l.TotalSupply())
	require.Empty(t, l.Accounts())
}

func TestDebitToZeroRemovesAccount(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Credit(alice, 5))
	require.NoError(t, l.Debit(alice, 5))

	require.Empty(t, l.Accounts())
	require.Equal(t, uint64(0), l.TotalSupply())
}

func TestSnapshotRoundTrip(t *testing.T) {
	store, err := pebble.NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	l := ledger.New()
	require.NoError(t, l.Credit(alice, 100))
	require.NoError(t, l.Credit(bob, 42))
	require.NoError(t, l.Snapshot(store))

	restored, err := ledger.Load(store)
	require.NoError(t, err)
	require.Equal(t, l.Dump(), restored.Dump())
}

func TestSnapshotDropsEmptiedAccounts(t *testing.T) {
	store, err := pebble.NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	l := ledger.New()
	require.NoError(t, l.Credit(alice, 100))
	require.NoError(t, l.Credit(bob, 10))
	require.NoError(t, l.Snapshot(store))

	require.NoError(t, l.Debit(bob, 10))
	require.NoError(t, l.Snapshot(store))

	restored, err := ledger.Load(store)
	require.NoError(t, err)
	require.Equal(t, uint64(0), restored.Balance(bob))
	require.Equal(t, uint64(100), restored.TotalSupply())
}

func TestLoadFreshStoreIsEmptyLedger(t *testing.T) {
	store, err := pebble.NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	l, err := ledger.Load(store)
	require.NoError(t, err)
	require.Equal(t, uint64(0), l.TotalSupply())
	require.Empty(t, l.Accounts())
}

func TestLoadRejectsBalancesWithoutSupply(t *testing.T) {
	store, err := pebble.NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	l := ledger.New()
	require.NoError(t, l.Credit(alice, 100))
	require.NoError(t, l.Snapshot(store))

	// A missing supply scalar with live balance rows is corruption
	require.NoError(t, store.Delete([]byte("ledger/s")))

	_, err = ledger.Load(store)
	require.ErrorIs(t, err, ledger.ErrCorruptSnapshot)
}

func TestLoadRejectsCorruptSnapshot(t *testing.T) {
	store, err := pebble.NewMemStore()
	require.NoError(t, err)
	defer store.Close()

	l := ledger.New()
	require.NoError(t, l.Credit(alice, 100))
	require.NoError(t, l.Snapshot(store))

	// Tamper with the supply scalar
	require.NoError(t, store.Put([]byte("ledger/s"), make([]byte, 8)))

	_, err = ledger.Load(store)
	require.ErrorIs(t, err, ledger.ErrCorruptSnapshot)
}
