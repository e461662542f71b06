package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ERC721 is a registry of unique tokens with per-token approvals and
// owner-wide operators.
type ERC721 struct {
	address common.Address
	name    string
	symbol  string

	mu        sync.RWMutex
	owners    map[uint256.Int]common.Address
	approvals map[uint256.Int]common.Address
	operators map[common.Address]map[common.Address]bool
}

func NewERC721(address common.Address, name, symbol string) *ERC721 {
	return &ERC721{
		address:   address,
		name:      name,
		symbol:    symbol,
		owners:    make(map[uint256.Int]common.Address),
		approvals: make(map[uint256.Int]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

func (n *ERC721) Address() common.Address { return n.address }
func (n *ERC721) Name() string            { return n.name }
func (n *ERC721) Symbol() string          { return n.symbol }

// Mint creates tokenID owned by to.
func (n *ERC721) Mint(to common.Address, tokenID *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint to the %w", ErrZeroAddress)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.owners[*tokenID]; ok {
		return fmt.Errorf("%w: %s", ErrTokenExists, tokenID.Dec())
	}
	n.owners[*tokenID] = to
	return nil
}

func (n *ERC721) OwnerOf(_ context.Context, tokenID *uint256.Int) (common.Address, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	owner, ok := n.owners[*tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNonexistentToken, tokenID.Dec())
	}
	return owner, nil
}

// Approve lets spender transfer tokenID. The caller must own the token or be
// one of the owner's operators.
func (n *ERC721) Approve(_ context.Context, caller, spender common.Address, tokenID *uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	owner, ok := n.owners[*tokenID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, tokenID.Dec())
	}
	if caller != owner && !n.operators[owner][caller] {
		return fmt.Errorf("approve %s: %w", tokenID.Dec(), ErrNotApproved)
	}
	n.approvals[*tokenID] = spender
	return nil
}

func (n *ERC721) GetApproved(_ context.Context, tokenID *uint256.Int) common.Address {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.approvals[*tokenID]
}

func (n *ERC721) SetApprovalForAll(_ context.Context, owner, operator common.Address, approved bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.operators[owner] == nil {
		n.operators[owner] = make(map[common.Address]bool)
	}
	n.operators[owner][operator] = approved
}

func (n *ERC721) IsApprovedForAll(_ context.Context, owner, operator common.Address) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.operators[owner][operator]
}

// TransferFrom moves tokenID and clears its single-token approval.
func (n *ERC721) TransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to the %w", ErrZeroAddress)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	owner, ok := n.owners[*tokenID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNonexistentToken, tokenID.Dec())
	}
	if owner != from {
		return fmt.Errorf("%w: %s owns %s", ErrNotTokenOwner, owner.Hex(), tokenID.Dec())
	}
	if operator != owner && n.approvals[*tokenID] != operator && !n.operators[owner][operator] {
		return fmt.Errorf("transfer %s by %s: %w", tokenID.Dec(), operator.Hex(), ErrNotApproved)
	}

	delete(n.approvals, *tokenID)
	n.owners[*tokenID] = to
	return nil
}
