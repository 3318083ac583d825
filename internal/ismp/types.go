// Package ismp defines the message types exchanged between state machines
// through the host: Post and Get requests, their responses, the dispatch
// envelopes modules hand to the host, and commitment hashing.
package ismp

import (
	"encoding/hex"
)

// StateMachine identifies a chain, e.g. "polkadot-2000" or "evm-1".
type StateMachine string

// ModuleID identifies a module within a state machine. Mirrors an 8-byte
// pallet identifier.
type ModuleID [8]byte

// AccountID is a 32-byte account identifier.
type AccountID [32]byte

// Origin is the identity of the caller of a module entry point. Inbound
// handlers accept only the configured host origin.
type Origin string

func (m ModuleID) String() string {
	return string(m[:])
}

func (a AccountID) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// StorageValue is a single key-value result carried in a GetResponse. A nil
// Value is a proof of absence for the key.
type StorageValue struct {
	Key   []byte
	Value []byte
}
