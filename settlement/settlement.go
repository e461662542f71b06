// Package settlement moves payment and asset between a winning bidder and an
// auction creator. Every engine either completes both legs or leaves balances
// and ownership as they were before the call.
package settlement

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
)

// NativeBank holds native currency balances.
type NativeBank interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// AssetContract is an ERC-721 style registry.
type AssetContract interface {
	Address() common.Address
	OwnerOf(ctx context.Context, tokenID *uint256.Int) (common.Address, error)
	GetApproved(ctx context.Context, tokenID *uint256.Int) common.Address
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) bool
	// TransferFrom moves tokenID from -> to on behalf of operator, which must
	// be the owner or approved by it.
	TransferFrom(ctx context.Context, operator, from, to common.Address, tokenID *uint256.Int) error
}

// PaymentToken is an ERC-20 style fungible token.
type PaymentToken interface {
	Address() common.Address
	Name() string
	Symbol() string
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// AllowanceGranter is implemented by payment tokens that let the settlement
// engine put back an allowance consumed by a refunded payment.
type AllowanceGranter interface {
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
}

// Permitter is implemented by payment tokens that accept signed allowance grants.
type Permitter interface {
	Permit(ctx context.Context, sp permit.Signed, now uint64) error
	PermitDomain() permit.Domain
	Nonce(owner common.Address) uint64
}

// Collaborators are the external contracts an auction settles against.
// Only the ones the variant needs must be set.
type Collaborators struct {
	Bank   NativeBank
	Assets AssetContract
	Token  PaymentToken
}

// Order is one exchange. Escrow is the auction's own address: it is the
// approved operator of the asset and the spender of the bidder's tokens.
type Order struct {
	Escrow  common.Address
	Bidder  common.Address
	Creator common.Address
	Amount  *uint256.Int
	Asset   *core.AssetRef
}

type Engine interface {
	Variant() core.Variant
	Settle(ctx context.Context, o Order) error
}

// NewEngine selects the settlement path for cfg and checks that the
// collaborators it needs are present and match the configured addresses.
func NewEngine(cfg core.AuctionConfig, c Collaborators, log *logrus.Entry) (Engine, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	log = log.WithFields(logrus.Fields{
		"package": "Settlement",
		"variant": cfg.Variant().String(),
	})

	switch cfg.Variant() {
	case core.VariantNative:
		if c.Bank == nil {
			return nil, fmt.Errorf("%w: native variant requires a bank", core.ErrInvalidConfig)
		}
		return &nativeEngine{bank: c.Bank, log: log}, nil

	case core.VariantNFTNative:
		if c.Bank == nil || c.Assets == nil {
			return nil, fmt.Errorf("%w: nft-native variant requires a bank and an asset contract", core.ErrInvalidConfig)
		}
		if err := checkAssetContract(cfg, c.Assets); err != nil {
			return nil, err
		}
		return &nftNativeEngine{bank: c.Bank, assets: c.Assets, log: log}, nil

	case core.VariantNFTToken:
		if c.Token == nil || c.Assets == nil {
			return nil, fmt.Errorf("%w: nft-token variant requires a token and an asset contract", core.ErrInvalidConfig)
		}
		if err := checkAssetContract(cfg, c.Assets); err != nil {
			return nil, err
		}
		if c.Token.Address() != *cfg.PaymentToken {
			return nil, fmt.Errorf("%w: payment token %s does not match collaborator %s",
				core.ErrInvalidConfig, cfg.PaymentToken.Hex(), c.Token.Address().Hex())
		}
		return &nftTokenEngine{token: c.Token, assets: c.Assets, log: log}, nil
	}

	return nil, fmt.Errorf("%w: unsupported variant %s", core.ErrInvalidConfig, cfg.Variant())
}

func checkAssetContract(cfg core.AuctionConfig, assets AssetContract) error {
	if assets.Address() != cfg.Asset.Contract {
		return fmt.Errorf("%w: asset contract %s does not match collaborator %s",
			core.ErrInvalidConfig, cfg.Asset.Contract.Hex(), assets.Address().Hex())
	}
	return nil
}
