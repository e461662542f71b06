package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/tokens"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bidder  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	escrow  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	nftAddr = common.HexToAddress("0x0000000000000000000000000000000000000721")
	tknAddr = common.HexToAddress("0x0000000000000000000000000000000000000020")
	tokenID = uint256.NewInt(1)
)

func nativeConfig() core.AuctionConfig {
	return core.AuctionConfig{ReservePrice: uint256.NewInt(400), Duration: 10, Decrement: uint256.NewInt(10), Creator: creator}
}

func nftConfig() core.AuctionConfig {
	cfg := nativeConfig()
	cfg.Asset = &core.AssetRef{Contract: nftAddr, TokenID: tokenID}
	return cfg
}

func tokenConfig() core.AuctionConfig {
	cfg := nftConfig()
	token := tknAddr
	cfg.PaymentToken = &token
	return cfg
}

func order(amount uint64) Order {
	return Order{
		Escrow:  escrow,
		Bidder:  bidder,
		Creator: creator,
		Amount:  uint256.NewInt(amount),
		Asset:   &core.AssetRef{Contract: nftAddr, TokenID: tokenID},
	}
}

func mustBalance(t *testing.T, get func(context.Context, common.Address) (*uint256.Int, error), owner common.Address) string {
	t.Helper()
	b, err := get(context.Background(), owner)
	assert.NoError(t, err)
	return b.Dec()
}

func mustOwner(t *testing.T, assets AssetContract) common.Address {
	t.Helper()
	owner, err := assets.OwnerOf(context.Background(), tokenID)
	assert.NoError(t, err)
	return owner
}

func TestNewEngine_SelectsVariant(t *testing.T) {
	bank := tokens.NewNativeLedger()
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	token := tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 1)

	tests := []struct {
		name     string
		cfg      core.AuctionConfig
		collab   Collaborators
		expected core.Variant
		wantErr  bool
	}{
		{"native", nativeConfig(), Collaborators{Bank: bank}, core.VariantNative, false},
		{"native without bank", nativeConfig(), Collaborators{}, 0, true},
		{"nft native", nftConfig(), Collaborators{Bank: bank, Assets: nft}, core.VariantNFTNative, false},
		{"nft native without assets", nftConfig(), Collaborators{Bank: bank}, 0, true},
		{"nft token", tokenConfig(), Collaborators{Token: token, Assets: nft}, core.VariantNFTToken, false},
		{"nft token without token", tokenConfig(), Collaborators{Assets: nft}, 0, true},
		{"mismatched asset contract", nftConfig(), Collaborators{Bank: bank, Assets: tokens.NewERC721(common.HexToAddress("0x99"), "Other", "O")}, 0, true},
		{"mismatched token", tokenConfig(), Collaborators{Token: tokens.NewERC20(common.HexToAddress("0x98"), "Other", "O", 18, 1), Assets: nft}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewEngine(tt.cfg, tt.collab, nil)
			if tt.wantErr {
				check.True(t, errors.Is(err, core.ErrInvalidConfig))
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.expected, engine.Variant())
		})
	}
}

func TestNativeEngine_Settle(t *testing.T) {
	ctx := context.Background()
	bank := tokens.NewNativeLedger()
	bank.Mint(bidder, uint256.NewInt(600))

	engine, err := NewEngine(nativeConfig(), Collaborators{Bank: bank}, nil)
	assert.NoError(t, err)

	assert.NoError(t, engine.Settle(ctx, order(500)))
	check.Equal(t, "100", mustBalance(t, bank.BalanceOf, bidder))
	check.Equal(t, "500", mustBalance(t, bank.BalanceOf, creator))

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrPaymentFailed))
	check.True(t, errors.Is(err, core.ErrInsufficientBalance))
	check.Equal(t, "100", mustBalance(t, bank.BalanceOf, bidder))
}

func TestNFTNativeEngine_Settle(t *testing.T) {
	ctx := context.Background()
	bank := tokens.NewNativeLedger()
	bank.Mint(bidder, uint256.NewInt(500))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))
	assert.NoError(t, nft.Approve(ctx, creator, escrow, tokenID))

	engine, err := NewEngine(nftConfig(), Collaborators{Bank: bank, Assets: nft}, nil)
	assert.NoError(t, err)

	assert.NoError(t, engine.Settle(ctx, order(500)))
	check.Equal(t, bidder, mustOwner(t, nft))
	check.Equal(t, "0", mustBalance(t, bank.BalanceOf, bidder))
	check.Equal(t, "0", mustBalance(t, bank.BalanceOf, escrow))
	check.Equal(t, "500", mustBalance(t, bank.BalanceOf, creator))
}

func TestNFTNativeEngine_AssetNotApproved(t *testing.T) {
	ctx := context.Background()
	bank := tokens.NewNativeLedger()
	bank.Mint(bidder, uint256.NewInt(500))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))

	engine, err := NewEngine(nftConfig(), Collaborators{Bank: bank, Assets: nft}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrAssetTransferFailed))
	check.True(t, errors.Is(err, ErrOperatorNotApproved))

	check.Equal(t, creator, mustOwner(t, nft))
	check.Equal(t, "500", mustBalance(t, bank.BalanceOf, bidder))
	check.Equal(t, "0", mustBalance(t, bank.BalanceOf, escrow))
	check.Equal(t, "0", mustBalance(t, bank.BalanceOf, creator))
}

func TestNFTNativeEngine_PaymentFailsBeforeAssetMoves(t *testing.T) {
	bank := tokens.NewNativeLedger()
	bank.Mint(bidder, uint256.NewInt(100))

	assetCalled := false
	assets := newApprovedAssets(func(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
		assetCalled = true
		return nil
	})

	engine, err := NewEngine(nftConfig(), Collaborators{Bank: bank, Assets: assets}, nil)
	assert.NoError(t, err)

	err = engine.Settle(context.Background(), order(500))
	check.True(t, errors.Is(err, core.ErrPaymentFailed))
	check.False(t, assetCalled)
	check.Equal(t, "100", mustBalance(t, bank.BalanceOf, bidder))
}

func TestNFTTokenEngine_Settle(t *testing.T) {
	ctx := context.Background()
	token := tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 1)
	token.Mint(bidder, uint256.NewInt(1000))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))
	nft.SetApprovalForAll(ctx, creator, escrow, true)

	engine, err := NewEngine(tokenConfig(), Collaborators{Token: token, Assets: nft}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrInsufficientAllowance))
	var shortfall *core.TokenShortfallError
	assert.True(t, errors.As(err, &shortfall))
	check.Equal(t, "E20", shortfall.Symbol)
	check.Equal(t, tknAddr, shortfall.Token)
	check.Equal(t, creator, mustOwner(t, nft))

	assert.NoError(t, token.Approve(ctx, bidder, escrow, uint256.NewInt(500)))
	assert.NoError(t, engine.Settle(ctx, order(500)))

	check.Equal(t, bidder, mustOwner(t, nft))
	check.Equal(t, "500", mustBalance(t, token.BalanceOf, bidder))
	check.Equal(t, "500", mustBalance(t, token.BalanceOf, creator))
	check.Equal(t, "0", mustBalance(t, token.BalanceOf, escrow))
	allowance, _ := token.Allowance(ctx, bidder, escrow)
	check.Equal(t, "0", allowance.Dec())
}

func TestNFTTokenEngine_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	token := tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 1)
	token.Mint(bidder, uint256.NewInt(499))
	assert.NoError(t, token.Approve(ctx, bidder, escrow, uint256.NewInt(500)))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))

	engine, err := NewEngine(tokenConfig(), Collaborators{Token: token, Assets: nft}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrInsufficientBalance))
	check.Equal(t, core.ClassSettlement, core.Classify(err))
	check.Equal(t, "499", mustBalance(t, token.BalanceOf, bidder))
}

func TestNFTTokenEngine_AssetFailureRefunds(t *testing.T) {
	ctx := context.Background()
	token := tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 1)
	token.Mint(bidder, uint256.NewInt(500))
	assert.NoError(t, token.Approve(ctx, bidder, escrow, uint256.NewInt(500)))

	assets := newApprovedAssets(func(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
		return errors.New("registry paused")
	})

	engine, err := NewEngine(tokenConfig(), Collaborators{Token: token, Assets: assets}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrAssetTransferFailed))
	check.Equal(t, "500", mustBalance(t, token.BalanceOf, bidder))
	check.Equal(t, "0", mustBalance(t, token.BalanceOf, escrow))
	check.Equal(t, "0", mustBalance(t, token.BalanceOf, creator))

	allowance, err := token.Allowance(ctx, bidder, escrow)
	assert.NoError(t, err)
	check.Equal(t, "500", allowance.Dec())
}

func TestNFTTokenEngine_UnapprovedAssetTakesNoPayment(t *testing.T) {
	ctx := context.Background()
	token := tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 1)
	token.Mint(bidder, uint256.NewInt(5000))
	assert.NoError(t, token.Approve(ctx, bidder, escrow, uint256.NewInt(500)))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))

	engine, err := NewEngine(tokenConfig(), Collaborators{Token: token, Assets: nft}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrAssetTransferFailed))
	check.True(t, errors.Is(err, ErrOperatorNotApproved))
	allowance, err := token.Allowance(ctx, bidder, escrow)
	assert.NoError(t, err)
	check.Equal(t, "500", allowance.Dec())
	check.Equal(t, "5000", mustBalance(t, token.BalanceOf, bidder))

	// Once the creator approves the auction the same order goes through.
	assert.NoError(t, nft.Approve(ctx, creator, escrow, tokenID))
	assert.NoError(t, engine.Settle(ctx, order(500)))
	check.Equal(t, bidder, mustOwner(t, nft))
	check.Equal(t, "4500", mustBalance(t, token.BalanceOf, bidder))
	check.Equal(t, "500", mustBalance(t, token.BalanceOf, creator))
}

func TestNFTNativeEngine_AssetMovedAway(t *testing.T) {
	ctx := context.Background()
	bank := tokens.NewNativeLedger()
	bank.Mint(bidder, uint256.NewInt(500))
	nft := tokens.NewERC721(nftAddr, "Collectible", "NFT")
	assert.NoError(t, nft.Mint(creator, tokenID))
	nft.SetApprovalForAll(ctx, creator, escrow, true)
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	assert.NoError(t, nft.TransferFrom(ctx, creator, creator, other, tokenID))

	engine, err := NewEngine(nftConfig(), Collaborators{Bank: bank, Assets: nft}, nil)
	assert.NoError(t, err)

	err = engine.Settle(ctx, order(500))
	check.True(t, errors.Is(err, core.ErrAssetTransferFailed))
	check.Equal(t, "500", mustBalance(t, bank.BalanceOf, bidder))
	check.Equal(t, other, mustOwner(t, nft))
}
