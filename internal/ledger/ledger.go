// Package ledger maintains the fungible asset table for one state machine:
// per-account balances plus a total supply counter. Every mutation keeps the
// conservation invariant totalSupply == sum of all balances.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/safemath"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = safemath.ErrOverflow
)

type Ledger struct {
	balances    map[ismp.AccountID]uint64
	totalSupply uint64
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[ismp.AccountID]uint64),
	}
}

// Credit increases the account balance and the total supply by amount.
// Fails with ErrOverflow if either counter would exceed the uint64 range;
// on failure neither counter changes.
func (l *Ledger) Credit(account ismp.AccountID, amount uint64) error {
	balance, ok := safemath.Add64(l.balances[account], amount)
	if !ok {
		return ErrOverflow
	}
	supply, ok := safemath.Add64(l.totalSupply, amount)
	if !ok {
		return ErrOverflow
	}

	l.setBalance(account, balance)
	l.totalSupply = supply
	return nil
}

// Debit decreases the account balance and the total supply by amount.
// Fails with ErrInsufficientBalance if the account holds less than amount;
// on failure neither counter changes.
func (l *Ledger) Debit(account ismp.AccountID, amount uint64) error {
	balance, ok := safemath.Sub64(l.balances[account], amount)
	if !ok {
		return ErrInsufficientBalance
	}

	l.setBalance(account, balance)
	l.totalSupply -= amount
	return nil
}

func (l *Ledger) setBalance(account ismp.AccountID, balance uint64) {
	if balance == 0 {
		delete(l.balances, account)
		return
	}
	l.balances[account] = balance
}

func (l *Ledger) Balance(account ismp.AccountID) uint64 {
	return l.balances[account]
}

func (l *Ledger) TotalSupply() uint64 {
	return l.totalSupply
}

// Accounts returns every account with a non-zero balance, in byte order.
func (l *Ledger) Accounts() []ismp.AccountID {
	accounts := make([]ismp.AccountID, 0, len(l.balances))
	for account := range l.balances {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return strings.Compare(string(accounts[i][:]), string(accounts[j][:])) < 0
	})
	return accounts
}

// Dump renders the ledger as one sorted line per account plus the supply
// line. Stable output, intended for test diffs.
func (l *Ledger) Dump() string {
	var sb strings.Builder
	for _, account := range l.Accounts() {
		fmt.Fprintf(&sb, "%s %d\n", account, l.balances[account])
	}
	fmt.Fprintf(&sb, "supply %d\n", l.totalSupply)
	return sb.String()
}
