package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Variant identifies which settlement path an auction uses.
type Variant int

const (
	// VariantNative sells nothing on-ledger; the bid is paid straight to the creator.
	VariantNative Variant = iota
	// VariantNFTNative exchanges an NFT for native currency.
	VariantNFTNative
	// VariantNFTToken exchanges an NFT for a fungible payment token.
	VariantNFTToken
)

func (v Variant) String() string {
	switch v {
	case VariantNative:
		return "native"
	case VariantNFTNative:
		return "nft-native"
	case VariantNFTToken:
		return "nft-token"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant is the inverse of Variant.String.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "native":
		return VariantNative, nil
	case "nft-native":
		return VariantNFTNative, nil
	case "nft-token":
		return VariantNFTToken, nil
	}
	return 0, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, s)
}

// AssetRef points at a single non-fungible token.
type AssetRef struct {
	Contract common.Address
	TokenID  *uint256.Int
}

func (a AssetRef) String() string {
	return fmt.Sprintf("%s#%s", a.Contract.Hex(), amountString(a.TokenID))
}

// AuctionConfig is fixed for the lifetime of an auction.
type AuctionConfig struct {
	ReservePrice *uint256.Int
	Duration     uint64
	Decrement    *uint256.Int
	Creator      common.Address

	// Asset is nil for the native variant.
	Asset *AssetRef
	// PaymentToken is nil unless bids are paid in a fungible token.
	PaymentToken *common.Address
}

// Variant derives the settlement path from which optional fields are set.
func (c AuctionConfig) Variant() Variant {
	switch {
	case c.Asset != nil && c.PaymentToken != nil:
		return VariantNFTToken
	case c.Asset != nil:
		return VariantNFTNative
	default:
		return VariantNative
	}
}

// Validate checks the structural invariants of the config. Asset ownership is
// checked separately at initialization because it needs the asset contract.
func (c AuctionConfig) Validate() error {
	if c.Duration == 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	}
	if c.Creator == (common.Address{}) {
		return fmt.Errorf("%w: creator address is required", ErrInvalidConfig)
	}
	if c.PaymentToken != nil && c.Asset == nil {
		return fmt.Errorf("%w: payment token requires an asset", ErrInvalidConfig)
	}
	if c.Asset != nil && c.Asset.Contract == (common.Address{}) {
		return fmt.Errorf("%w: asset contract address is required", ErrInvalidConfig)
	}
	if _, overflow := startingPrice(c); overflow {
		return fmt.Errorf("%w: reserve + decrement*duration overflows 256 bits", ErrInvalidConfig)
	}
	return nil
}

// StartingPrice is the price at zero elapsed units: reserve + decrement*duration.
func (c AuctionConfig) StartingPrice() *uint256.Int {
	price, _ := startingPrice(c)
	return price
}

func startingPrice(c AuctionConfig) (*uint256.Int, bool) {
	span, overflow := new(uint256.Int).MulOverflow(orZero(c.Decrement), uint256.NewInt(c.Duration))
	if overflow {
		return nil, true
	}
	return new(uint256.Int).AddOverflow(orZero(c.ReservePrice), span)
}

// AuctionState is the mutable part of an auction. Winner is the zero address
// until a bid settles.
type AuctionState struct {
	StartTime uint64
	Winner    common.Address
	Ended     bool
}

func (s AuctionState) HasWinner() bool {
	return s.Winner != (common.Address{})
}

// Bid is a single purchase attempt. Bids are never stored by the auction.
type Bid struct {
	Bidder common.Address
	Amount *uint256.Int
	Time   uint64
}

// Receipt describes a settled bid.
type Receipt struct {
	ID           string
	AuctionID    string
	Variant      Variant
	Bidder       common.Address
	Creator      common.Address
	Amount       *uint256.Int
	Price        *uint256.Int
	Asset        *AssetRef
	PaymentToken *common.Address
	Time         uint64
	// ConfigHash is ComputeConfigHash of the terms the sale settled under.
	ConfigHash string
	Hash       string
}

// Status is a point-in-time snapshot of an auction.
type Status struct {
	AuctionID    string
	Address      common.Address
	Variant      Variant
	Creator      common.Address
	ReservePrice *uint256.Int
	Decrement    *uint256.Int
	Duration     uint64
	StartTime    uint64
	Now          uint64
	CurrentPrice *uint256.Int
	Winner       common.Address
	Ended        bool
	Expired      bool
	Version      uint64
	ConfigHash   string
	Asset        *AssetRef
	PaymentToken *common.Address
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func amountString(v *uint256.Int) string {
	return orZero(v).Dec()
}
