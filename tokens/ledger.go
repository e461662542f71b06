// Package tokens holds in-memory reference implementations of the ledgers an
// auction settles against: native currency, an ERC-721 registry and an ERC-20
// token with permit support. They back local simulation and tests.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
)

var (
	ErrZeroAddress      = errors.New("zero address")
	ErrNonexistentToken = errors.New("nonexistent token")
	ErrTokenExists      = errors.New("token already minted")
	ErrNotTokenOwner    = errors.New("from is not the token owner")
	ErrNotApproved      = errors.New("caller is not token owner or approved")
)

// NativeLedger tracks native currency balances.
type NativeLedger struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

func NewNativeLedger() *NativeLedger {
	return &NativeLedger{balances: make(map[common.Address]*uint256.Int)}
}

// Mint credits amount to owner.
func (l *NativeLedger) Mint(owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(uint256.Int).Add(balanceOf(l.balances, owner), amount)
}

func (l *NativeLedger) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return balanceOf(l.balances, owner).Clone(), nil
}

func (l *NativeLedger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return move(l.balances, from, to, amount)
}

func balanceOf(balances map[common.Address]*uint256.Int, owner common.Address) *uint256.Int {
	if b, ok := balances[owner]; ok {
		return b
	}
	return new(uint256.Int)
}

// move debits from and credits to, or changes nothing.
func move(balances map[common.Address]*uint256.Int, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to the %w", ErrZeroAddress)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	have := balanceOf(balances, from)
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", core.ErrInsufficientBalance, from.Hex(), have.Dec(), amount.Dec())
	}
	balances[from] = new(uint256.Int).Sub(have, amount)
	balances[to] = new(uint256.Int).Add(balanceOf(balances, to), amount)
	return nil
}
