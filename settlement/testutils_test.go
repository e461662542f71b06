package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MockAssetContract delegates to function fields so tests can inject failures.
type MockAssetContract struct {
	AddressValue     common.Address
	OwnerOfFunc      func(ctx context.Context, tokenID *uint256.Int) (common.Address, error)
	ApprovedValue    common.Address
	OperatorValue    bool
	TransferFromFunc func(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error
}

// newApprovedAssets returns a mock where the creator owns the token and the
// escrow is its approved operator.
func newApprovedAssets(transfer func(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error) *MockAssetContract {
	return &MockAssetContract{
		AddressValue: nftAddr,
		OwnerOfFunc: func(context.Context, *uint256.Int) (common.Address, error) {
			return creator, nil
		},
		ApprovedValue:    escrow,
		TransferFromFunc: transfer,
	}
}

func (m *MockAssetContract) Address() common.Address {
	return m.AddressValue
}

func (m *MockAssetContract) OwnerOf(ctx context.Context, tokenID *uint256.Int) (common.Address, error) {
	if m.OwnerOfFunc != nil {
		return m.OwnerOfFunc(ctx, tokenID)
	}
	return common.Address{}, fmt.Errorf("mock not configured")
}

func (m *MockAssetContract) GetApproved(context.Context, *uint256.Int) common.Address {
	return m.ApprovedValue
}

func (m *MockAssetContract) IsApprovedForAll(context.Context, common.Address, common.Address) bool {
	return m.OperatorValue
}

func (m *MockAssetContract) TransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error {
	if m.TransferFromFunc != nil {
		return m.TransferFromFunc(ctx, operator, from, to, tokenID)
	}
	return fmt.Errorf("mock not configured")
}
