package ledger

import (
	"errors"
	"fmt"

	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/pkg/db"
	"github.com/brambleio/bramble/pkg/db/pebble"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// Key layout in the backing store. Balance rows are keyed by account id
// under a common prefix so a snapshot can be iterated as one range.
var (
	balancePrefix   = []byte("ledger/b/")
	balanceRangeEnd = []byte("ledger/c")
	supplyKey       = []byte("ledger/s")
)

var ErrCorruptSnapshot = errors.New("ledger snapshot does not satisfy conservation")

// Snapshot writes the full balance table and the supply counter to the store
// in a single atomic batch, removing rows for accounts that no longer hold a
// balance.
func (l *Ledger) Snapshot(kv db.KVStore) error {
	stale, err := staleKeys(kv, l)
	if err != nil {
		return err
	}

	batch := kv.NewBatch()
	defer batch.Close()

	for account, balance := range l.balances {
		w := codec.NewWriter()
		w.WriteUint64(balance)
		if err := batch.Put(balanceKey(account), w.Bytes()); err != nil {
			return err
		}
	}
	for _, key := range stale {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}

	w := codec.NewWriter()
	w.WriteUint64(l.totalSupply)
	if err := batch.Put(supplyKey, w.Bytes()); err != nil {
		return err
	}

	return batch.Commit()
}

// Load rebuilds a ledger from a snapshot, verifying conservation.
func Load(kv db.KVStore) (*Ledger, error) {
	l := New()

	iter, err := kv.NewIterator(balancePrefix, balanceRangeEnd)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var sum uint64
	for iter.Next() {
		account, err := accountFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		value, err := iter.Value()
		if err != nil {
			return nil, err
		}
		r := codec.NewReader(value)
		balance, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		if err := r.Finish(); err != nil {
			return nil, err
		}
		l.balances[account] = balance
		sum += balance
	}

	raw, err := kv.Get(supplyKey)
	if err == pebble.ErrNotFound {
		// No snapshot taken yet: a fresh store is an empty ledger, but
		// balance rows without a supply key are corruption.
		if sum != 0 {
			return nil, ErrCorruptSnapshot
		}
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	r := codec.NewReader(raw)
	supply, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}

	if supply != sum {
		return nil, ErrCorruptSnapshot
	}
	l.totalSupply = supply
	return l, nil
}

func balanceKey(account ismp.AccountID) []byte {
	return append(append([]byte{}, balancePrefix...), account[:]...)
}

func accountFromKey(key []byte) (ismp.AccountID, error) {
	var account ismp.AccountID
	if len(key) != len(balancePrefix)+len(account) {
		return account, fmt.Errorf("malformed balance key of length %d", len(key))
	}
	copy(account[:], key[len(balancePrefix):])
	return account, nil
}

// staleKeys lists balance rows present in the store but absent from the
// ledger, so the snapshot batch can delete them.
func staleKeys(kv db.KVStore, l *Ledger) ([][]byte, error) {
	iter, err := kv.NewIterator(balancePrefix, balanceRangeEnd)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var stale [][]byte
	for iter.Next() {
		account, err := accountFromKey(iter.Key())
		if err != nil {
			return nil, err
		}
		if _, live := l.balances[account]; !live {
			stale = append(stale, iter.Key())
		}
	}
	return stale, nil
}
