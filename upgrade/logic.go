package upgrade

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
)

// Logic is the swappable behavior behind a Proxy. Implementations hold no
// state of their own; everything lives in the auction the proxy passes in.
type Logic interface {
	Version() uint64
	Bid(ctx context.Context, a *auction.Auction, bidder common.Address, amount *uint256.Int) (*core.Receipt, error)
	CurrentPrice(a *auction.Auction) *uint256.Int
}

// PermitLogic is implemented by logic versions that accept a signed permit
// in place of a prior approval.
type PermitLogic interface {
	Logic
	BidWithPermit(ctx context.Context, a *auction.Auction, sp permit.Signed) (*core.Receipt, error)
}

// LogicV1 is the initial deployment: plain bids only.
type LogicV1 struct{}

func (LogicV1) Version() uint64 { return 1 }

func (LogicV1) Bid(ctx context.Context, a *auction.Auction, bidder common.Address, amount *uint256.Int) (*core.Receipt, error) {
	return a.Bid(ctx, bidder, amount)
}

func (LogicV1) CurrentPrice(a *auction.Auction) *uint256.Int {
	return a.CurrentPrice()
}

// LogicV2 adds permit bids on token-paid auctions.
type LogicV2 struct {
	LogicV1
}

func (LogicV2) Version() uint64 { return 2 }

func (LogicV2) BidWithPermit(ctx context.Context, a *auction.Auction, sp permit.Signed) (*core.Receipt, error) {
	return a.BidWithPermit(ctx, sp)
}

// LogicFor returns the logic implementation for a version number.
func LogicFor(version uint64) (Logic, error) {
	switch version {
	case 1:
		return LogicV1{}, nil
	case 2:
		return LogicV2{}, nil
	}
	return nil, fmt.Errorf("%w: no logic version %d", core.ErrUnsupported, version)
}

// Latest is the newest logic version.
func Latest() Logic {
	return LogicV2{}
}
