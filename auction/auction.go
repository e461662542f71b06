// Package auction runs a single descending-price sale: it prices bids off the
// schedule, admits at most one winner and commits it only after settlement
// succeeds.
package auction

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/settlement"
)

// Observer is notified after a bid settles. Calls happen outside the
// auction's lock, in registration order.
type Observer interface {
	AuctionSettled(ctx context.Context, r core.Receipt)
}

type Auction struct {
	id        uuid.UUID
	address   common.Address
	cfg       core.AuctionConfig
	cfgHash   string
	schedule  core.PriceSchedule
	engine    settlement.Engine
	permitter settlement.Permitter
	clock     core.Clock
	log       *logrus.Entry
	observers []Observer

	mu    sync.RWMutex
	state core.AuctionState
}

// AddressFor derives the ledger address an auction uses as escrow, asset
// operator and token spender.
func AddressFor(id uuid.UUID) common.Address {
	return common.BytesToAddress(crypto.Keccak256(id[:])[12:])
}

// New validates cfg, checks that the creator owns the asset, and opens the
// auction at the clock's current time unit. Nothing is retained on error.
func New(ctx context.Context, cfg core.AuctionConfig, collab settlement.Collaborators, opts ...Option) (*Auction, error) {
	a := &Auction{
		id:    uuid.New(),
		clock: core.DefaultClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logrus.NewEntry(logrus.New())
	}
	a.address = AddressFor(a.id)
	a.log = a.log.WithFields(logrus.Fields{
		"package": "Auction",
		"auction": a.id.String(),
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := settlement.NewEngine(cfg, collab, a.log)
	if err != nil {
		return nil, err
	}

	if cfg.Asset != nil {
		if err := VerifyOwnership(ctx, collab.Assets, *cfg.Asset, cfg.Creator); err != nil {
			a.log.WithError(err).Warn("ownership check failed")
			return nil, err
		}
	}

	if p, ok := collab.Token.(settlement.Permitter); ok && cfg.Variant() == core.VariantNFTToken {
		a.permitter = p
	}

	a.cfg = cloneConfig(cfg)
	a.cfgHash = core.ComputeConfigHash(a.cfg)
	a.engine = engine
	start := a.clock.Now()
	a.state = core.AuctionState{StartTime: start}
	a.schedule = core.NewPriceSchedule(a.cfg, start)

	a.log.WithFields(logrus.Fields{
		"variant":       cfg.Variant().String(),
		"address":       a.address.Hex(),
		"startPrice":    a.cfg.StartingPrice().Dec(),
		"reservePrice":  a.schedule.Reserve.Dec(),
		"duration":      a.cfg.Duration,
		"startTimeUnit": start,
		"configHash":    a.cfgHash,
	}).Info("auction opened")

	return a, nil
}

func (a *Auction) ID() uuid.UUID           { return a.id }
func (a *Auction) Address() common.Address { return a.address }

// Config returns a copy of the immutable config.
func (a *Auction) Config() core.AuctionConfig {
	return cloneConfig(a.cfg)
}

// CurrentPrice is the price a bid must meet right now.
func (a *Auction) CurrentPrice() *uint256.Int {
	return a.schedule.PriceAt(a.clock.Now())
}

// PriceAt exposes the schedule for an arbitrary time unit.
func (a *Auction) PriceAt(now uint64) *uint256.Int {
	return a.schedule.PriceAt(now)
}

// Winner returns the winning bidder, if any.
func (a *Auction) Winner() (common.Address, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Winner, a.state.HasWinner()
}

// Ended reports whether a bid has settled. Expiry alone does not end an auction.
func (a *Auction) Ended() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Ended
}

func (a *Auction) State() core.AuctionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Auction) Status() core.Status {
	a.mu.RLock()
	state := a.state
	a.mu.RUnlock()

	now := a.clock.Now()
	return core.Status{
		AuctionID:    a.id.String(),
		Address:      a.address,
		Variant:      a.cfg.Variant(),
		Creator:      a.cfg.Creator,
		ReservePrice: a.schedule.Reserve.Clone(),
		Decrement:    a.schedule.Decrement.Clone(),
		Duration:     a.cfg.Duration,
		StartTime:    state.StartTime,
		Now:          now,
		CurrentPrice: a.schedule.PriceAt(now),
		Winner:       state.Winner,
		Ended:        state.Ended,
		Expired:      a.schedule.Expired(now),
		ConfigHash:   a.cfgHash,
		Asset:        cloneAsset(a.cfg.Asset),
		PaymentToken: cloneAddress(a.cfg.PaymentToken),
	}
}

// Bid attempts to buy at the current price. The amount is the full payment:
// anything above the price is not returned.
func (a *Auction) Bid(ctx context.Context, bidder common.Address, amount *uint256.Int) (*core.Receipt, error) {
	return a.bid(ctx, bidder, amount, nil)
}

// BidWithPermit applies a signed token permit naming the auction as spender
// and bids the permitted value, all under one admission. The grant stays in
// effect if settlement later fails.
func (a *Auction) BidWithPermit(ctx context.Context, sp permit.Signed) (*core.Receipt, error) {
	if a.permitter == nil {
		return nil, fmt.Errorf("bid with permit on %s auction: %w", a.cfg.Variant(), core.ErrUnsupported)
	}
	return a.bid(ctx, sp.Owner, sp.Value, func(ctx context.Context, now uint64) error {
		if sp.Spender != a.address {
			return fmt.Errorf("%w: permit spender %s is not the auction %s",
				core.ErrPermitInvalidSignature, sp.Spender.Hex(), a.address.Hex())
		}
		return a.permitter.Permit(ctx, sp, now)
	})
}

// bid runs the admission checks in order (ended, expired, price, bidder),
// then beforeSettle, then settlement, and commits the winner only if all pass.
func (a *Auction) bid(ctx context.Context, bidder common.Address, amount *uint256.Int, beforeSettle func(context.Context, uint64) error) (*core.Receipt, error) {
	if amount == nil {
		amount = new(uint256.Int)
	}

	a.mu.Lock()
	receipt, err := a.bidLocked(ctx, bidder, amount, beforeSettle)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, o := range a.observers {
		o.AuctionSettled(ctx, *receipt)
	}
	return receipt, nil
}

func (a *Auction) bidLocked(ctx context.Context, bidder common.Address, amount *uint256.Int, beforeSettle func(context.Context, uint64) error) (*core.Receipt, error) {
	now := a.clock.Now()
	log := a.log.WithFields(logrus.Fields{
		"bidder":   bidder.Hex(),
		"amount":   amount.Dec(),
		"timeUnit": now,
	})

	if a.state.Ended {
		log.Info("bid rejected: already ended")
		return nil, fmt.Errorf("bid from %s: %w", bidder.Hex(), core.ErrAlreadyEnded)
	}
	if a.schedule.Expired(now) {
		log.Info("bid rejected: expired")
		return nil, fmt.Errorf("bid from %s at unit %d, window closed after unit %d: %w",
			bidder.Hex(), now, a.state.StartTime+a.cfg.Duration, core.ErrExpired)
	}
	price := a.schedule.PriceAt(now)
	if !core.BidMeetsPrice(amount, price) {
		log.WithField("price", price.Dec()).Info("bid rejected: below price")
		return nil, fmt.Errorf("%w: bid %s, price %s", core.ErrPriceNotMet, amount.Dec(), price.Dec())
	}
	if bidder == (common.Address{}) {
		return nil, fmt.Errorf("%w: bidder address is required", core.ErrInvalidBid)
	}

	if beforeSettle != nil {
		if err := beforeSettle(ctx, now); err != nil {
			log.WithError(err).Info("bid rejected before settlement")
			return nil, err
		}
	}

	err := a.engine.Settle(ctx, settlement.Order{
		Escrow:  a.address,
		Bidder:  bidder,
		Creator: a.cfg.Creator,
		Amount:  amount,
		Asset:   a.cfg.Asset,
	})
	if err != nil {
		log.WithError(err).Warn("settlement failed")
		return nil, fmt.Errorf("settle bid from %s: %w", bidder.Hex(), err)
	}

	a.state.Winner = bidder
	a.state.Ended = true

	receipt := &core.Receipt{
		ID:           uuid.NewString(),
		AuctionID:    a.id.String(),
		Variant:      a.cfg.Variant(),
		Bidder:       bidder,
		Creator:      a.cfg.Creator,
		Amount:       amount.Clone(),
		Price:        price,
		Asset:        cloneAsset(a.cfg.Asset),
		PaymentToken: cloneAddress(a.cfg.PaymentToken),
		Time:         now,
		ConfigHash:   a.cfgHash,
	}
	receipt.Hash = core.ComputeReceiptHash(*receipt)

	log.WithFields(logrus.Fields{
		"price":   price.Dec(),
		"receipt": receipt.ID,
	}).Info("bid accepted")
	return receipt, nil
}

func cloneConfig(cfg core.AuctionConfig) core.AuctionConfig {
	out := cfg
	if cfg.ReservePrice != nil {
		out.ReservePrice = cfg.ReservePrice.Clone()
	}
	if cfg.Decrement != nil {
		out.Decrement = cfg.Decrement.Clone()
	}
	out.Asset = cloneAsset(cfg.Asset)
	out.PaymentToken = cloneAddress(cfg.PaymentToken)
	return out
}

func cloneAsset(ref *core.AssetRef) *core.AssetRef {
	if ref == nil {
		return nil
	}
	out := *ref
	if ref.TokenID != nil {
		out.TokenID = ref.TokenID.Clone()
	}
	return &out
}

func cloneAddress(addr *common.Address) *common.Address {
	if addr == nil {
		return nil
	}
	out := *addr
	return &out
}
