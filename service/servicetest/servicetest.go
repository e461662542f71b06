// Package servicetest builds a running nft-token auction service on
// in-memory ledgers for tests of the transports above it.
package servicetest

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/receipts"
	"github.com/cloudx-io/dutchauction/service"
	"github.com/cloudx-io/dutchauction/settlement"
	"github.com/cloudx-io/dutchauction/store"
	"github.com/cloudx-io/dutchauction/tokens"
	"github.com/cloudx-io/dutchauction/upgrade"
)

const (
	Start    = uint64(1_700_000_000)
	Duration = uint64(10)
	ChainID  = uint64(31337)
)

var (
	AdminKey = crypto.ToECDSAUnsafe(common.FromHex("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"))
	Admin    = crypto.PubkeyToAddress(AdminKey.PublicKey)

	Creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	NFTAddr = common.HexToAddress("0x0000000000000000000000000000000000000721")
	TknAddr = common.HexToAddress("0x0000000000000000000000000000000000000020")
	TokenID = uint256.NewInt(1)

	// Reserve 400, decrement 10 over 10 units: starts at 500.
	Reserve   = uint256.NewInt(400)
	Decrement = uint256.NewInt(10)
)

type Fixture struct {
	ID        uuid.UUID
	Address   common.Address
	Clock     *core.ManualClock
	NFT       *tokens.ERC721
	Token     *tokens.ERC20
	Signer    *receipts.Signer
	Store     *store.MemoryStore
	Proxy     *upgrade.Proxy
	Service   *service.Service
	BidderKey *ecdsa.PrivateKey
	Bidder    common.Address
}

// New opens the auction at Start with logic v1. The bidder holds 1000 tokens
// and has approved nothing.
func New(t *testing.T, opts service.Options) *Fixture {
	t.Helper()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &Fixture{
		ID:        uuid.New(),
		Clock:     core.NewManualClock(Start),
		NFT:       tokens.NewERC721(NFTAddr, "Collectible", "NFT"),
		Token:     tokens.NewERC20(TknAddr, "E20Tkn", "E20", 18, ChainID),
		Store:     store.NewMemoryStore(),
		BidderKey: key,
		Bidder:    crypto.PubkeyToAddress(key.PublicKey),
	}
	f.Address = auction.AddressFor(f.ID)

	if opts.Signer == nil {
		f.Signer, err = receipts.NewSigner()
		if err != nil {
			t.Fatalf("new signer: %v", err)
		}
		opts.Signer = f.Signer
	} else {
		f.Signer = opts.Signer
	}
	if opts.Store == nil {
		opts.Store = f.Store
	}
	if opts.ChainID == 0 {
		opts.ChainID = ChainID
	}
	if opts.Logger == nil {
		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		opts.Logger = logrus.NewEntry(log)
	}

	if err := f.NFT.Mint(Creator, TokenID); err != nil {
		t.Fatalf("mint nft: %v", err)
	}
	if err := f.NFT.Approve(ctx, Creator, f.Address, TokenID); err != nil {
		t.Fatalf("approve nft: %v", err)
	}
	f.Token.Mint(f.Bidder, uint256.NewInt(1000))

	f.Proxy = upgrade.NewProxy(upgrade.LogicV1{}, opts.Logger)
	f.Service = service.New(f.Proxy, opts)

	token := TknAddr
	cfg := core.AuctionConfig{
		ReservePrice: Reserve,
		Duration:     Duration,
		Decrement:    Decrement,
		Creator:      Creator,
		Asset:        &core.AssetRef{Contract: NFTAddr, TokenID: TokenID},
		PaymentToken: &token,
	}
	err = f.Service.Open(ctx, Admin, cfg, settlement.Collaborators{Assets: f.NFT, Token: f.Token},
		auction.WithClock(f.Clock), auction.WithID(f.ID), auction.WithLogger(opts.Logger))
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}
	return f
}

// ApproveBidder lets the auction spend amount of the bidder's tokens.
func (f *Fixture) ApproveBidder(t *testing.T, amount uint64) {
	t.Helper()
	if err := f.Token.Approve(context.Background(), f.Bidder, f.Address, uint256.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

// SignPermit signs a permit for value with the bidder's current nonce.
func (f *Fixture) SignPermit(t *testing.T, value, deadline uint64) permit.Signed {
	t.Helper()
	sp, err := permit.Sign(f.Token.PermitDomain(), permit.Permit{
		Owner:    f.Bidder,
		Spender:  f.Address,
		Value:    uint256.NewInt(value),
		Nonce:    f.Token.Nonce(f.Bidder),
		Deadline: deadline,
	}, f.BidderKey)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	return sp
}

// SignBid signs a bid of amount from the bidder. Each signed request is
// accepted once, so repeated bids need distinct deadlines.
func (f *Fixture) SignBid(t *testing.T, amount, deadline uint64) auctionapi.BidRequest {
	t.Helper()
	intent := permit.BidIntent{Bidder: f.Bidder, Amount: uint256.NewInt(amount), Deadline: deadline}
	sig, err := permit.SignMessage(permit.RequestDomain(f.Address, ChainID), intent, f.BidderKey)
	if err != nil {
		t.Fatalf("sign bid: %v", err)
	}
	return auctionapi.BidRequestFrom(intent, sig)
}

// SignUpgrade signs an upgrade to version as the holder of key.
func (f *Fixture) SignUpgrade(t *testing.T, key *ecdsa.PrivateKey, version, deadline uint64) auctionapi.UpgradeRequest {
	t.Helper()
	intent := permit.UpgradeIntent{Caller: crypto.PubkeyToAddress(key.PublicKey), Version: version, Deadline: deadline}
	sig, err := permit.SignMessage(permit.RequestDomain(f.Address, ChainID), intent, key)
	if err != nil {
		t.Fatalf("sign upgrade: %v", err)
	}
	return auctionapi.UpgradeRequestFrom(intent, sig)
}
