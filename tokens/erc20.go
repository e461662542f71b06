package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
)

// ERC20 is a fungible token with allowances and EIP-2612 permits.
type ERC20 struct {
	address  common.Address
	name     string
	symbol   string
	decimals int32
	permits  *permit.Verifier

	mu         sync.Mutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewERC20 creates a token whose permits are bound to chainID and address.
func NewERC20(address common.Address, name, symbol string, decimals int32, chainID uint64) *ERC20 {
	return &ERC20{
		address:  address,
		name:     name,
		symbol:   symbol,
		decimals: decimals,
		permits: permit.NewVerifier(permit.Domain{
			Name:              name,
			Version:           "1",
			ChainID:           chainID,
			VerifyingContract: address,
		}),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() int32         { return t.decimals }

// Mint credits amount to owner.
func (t *ERC20) Mint(owner common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] = new(uint256.Int).Add(balanceOf(t.balances, owner), amount)
}

func (t *ERC20) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return balanceOf(t.balances, owner).Clone(), nil
}

func (t *ERC20) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowance(owner, spender).Clone(), nil
}

// Approve replaces spender's allowance over owner's tokens.
func (t *ERC20) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve the %w", ErrZeroAddress)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, amount)
	return nil
}

func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return move(t.balances, from, to, amount)
}

// TransferFrom spends spender's allowance over from. Allowance is checked
// before balance and is only consumed if the transfer succeeds.
func (t *ERC20) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowance(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
			core.ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), from.Hex(), amount.Dec())
	}
	if err := move(t.balances, from, to, amount); err != nil {
		return err
	}
	t.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
	return nil
}

// Permit verifies a signed grant and sets the allowance it names.
func (t *ERC20) Permit(_ context.Context, sp permit.Signed, now uint64) error {
	if sp.Spender == (common.Address{}) {
		return fmt.Errorf("permit the %w", ErrZeroAddress)
	}
	if err := t.permits.Verify(sp, now); err != nil {
		return fmt.Errorf("%s permit: %w", t.symbol, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(sp.Owner, sp.Spender, sp.Value)
	return nil
}

func (t *ERC20) PermitDomain() permit.Domain {
	return t.permits.Domain()
}

// Nonce returns the nonce owner's next permit must carry.
func (t *ERC20) Nonce(owner common.Address) uint64 {
	return t.permits.Nonce(owner)
}

func (t *ERC20) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

func (t *ERC20) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	t.allowances[owner][spender] = amount.Clone()
}
