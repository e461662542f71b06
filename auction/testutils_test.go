package auction

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/tokens"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	bidder1 = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidder2 = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	nftAddr = common.HexToAddress("0x0000000000000000000000000000000000000721")
	tknAddr = common.HexToAddress("0x0000000000000000000000000000000000000020")
	tokenID = uint256.NewInt(1)
)

// fixture bundles the in-memory ledgers an auction settles against.
type fixture struct {
	id    uuid.UUID
	clock *core.ManualClock
	bank  *tokens.NativeLedger
	nft   *tokens.ERC721
	token *tokens.ERC20
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		id:    uuid.New(),
		clock: core.NewManualClock(1_700_000_000),
		bank:  tokens.NewNativeLedger(),
		nft:   tokens.NewERC721(nftAddr, "Collectible", "NFT"),
		token: tokens.NewERC20(tknAddr, "E20Tkn", "E20", 18, 31337),
	}
	assert.NoError(t, f.nft.Mint(creator, tokenID))
	return f
}

// approveAuction lets the not-yet-created auction move the creator's NFT.
func (f *fixture) approveAuction(t *testing.T) {
	t.Helper()
	assert.NoError(t, f.nft.Approve(context.Background(), creator, AddressFor(f.id), tokenID))
}

func (f *fixture) owner(t *testing.T) common.Address {
	t.Helper()
	owner, err := f.nft.OwnerOf(context.Background(), tokenID)
	assert.NoError(t, err)
	return owner
}

func nativeConfig(reserve, duration, decrement uint64) core.AuctionConfig {
	return core.AuctionConfig{
		ReservePrice: uint256.NewInt(reserve),
		Duration:     duration,
		Decrement:    uint256.NewInt(decrement),
		Creator:      creator,
	}
}

func nftConfig(reserve, duration, decrement uint64) core.AuctionConfig {
	cfg := nativeConfig(reserve, duration, decrement)
	cfg.Asset = &core.AssetRef{Contract: nftAddr, TokenID: tokenID}
	return cfg
}

func tokenConfig(reserve, duration, decrement uint64) core.AuctionConfig {
	cfg := nftConfig(reserve, duration, decrement)
	token := tknAddr
	cfg.PaymentToken = &token
	return cfg
}

func amount(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// recordingObserver keeps every receipt it is handed.
type recordingObserver struct {
	receipts []core.Receipt
}

func (r *recordingObserver) AuctionSettled(_ context.Context, receipt core.Receipt) {
	r.receipts = append(r.receipts, receipt)
}
