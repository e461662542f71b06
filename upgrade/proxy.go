// Package upgrade keeps an auction's storage stable while the logic that
// operates on it is replaced. A Proxy is initialized exactly once and its
// admin may point it at newer logic versions.
package upgrade

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/settlement"
)

type Proxy struct {
	log *logrus.Entry

	mu          sync.RWMutex
	initialized bool
	admin       common.Address
	auction     *auction.Auction
	logic       Logic
}

// NewProxy returns an uninitialized proxy running logic.
func NewProxy(logic Logic, log *logrus.Entry) *Proxy {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Proxy{
		logic: logic,
		log: log.WithFields(logrus.Fields{
			"package": "Upgrade",
		}),
	}
}

// Initialize runs the auction construction path once. A second call fails
// with core.ErrAlreadyInitialized; a failed first call leaves the proxy
// uninitialized so it can be retried.
func (p *Proxy) Initialize(ctx context.Context, admin common.Address, cfg core.AuctionConfig, collab settlement.Collaborators, opts ...auction.Option) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return core.ErrAlreadyInitialized
	}
	if admin == (common.Address{}) {
		return fmt.Errorf("%w: admin address is required", core.ErrInvalidConfig)
	}

	opts = append([]auction.Option{auction.WithLogger(p.log)}, opts...)
	a, err := auction.New(ctx, cfg, collab, opts...)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	p.auction = a
	p.admin = admin
	p.initialized = true
	p.log.WithFields(logrus.Fields{
		"admin":   admin.Hex(),
		"auction": a.ID().String(),
		"version": p.logic.Version(),
	}).Info("proxy initialized")
	return nil
}

func (p *Proxy) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

func (p *Proxy) Admin() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.admin
}

// CurrentVersion returns the version of the active logic.
func (p *Proxy) CurrentVersion() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.logic.Version()
}

// AuthorizeUpgrade is the single gate on who may swap logic.
func (p *Proxy) AuthorizeUpgrade(caller common.Address) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.authorizeLocked(caller)
}

func (p *Proxy) authorizeLocked(caller common.Address) error {
	if !p.initialized {
		return core.ErrNotInitialized
	}
	if caller != p.admin {
		return fmt.Errorf("%w: %s is not the admin", core.ErrUnauthorizedUpgrade, caller.Hex())
	}
	return nil
}

// UpgradeTo swaps in newer logic. Auction state is untouched.
func (p *Proxy) UpgradeTo(caller common.Address, logic Logic) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.authorizeLocked(caller); err != nil {
		p.log.WithError(err).WithField("caller", caller.Hex()).Warn("upgrade rejected")
		return err
	}
	if logic == nil {
		return fmt.Errorf("%w: logic is nil", core.ErrUnsupported)
	}
	if logic.Version() <= p.logic.Version() {
		return fmt.Errorf("%w: %d -> %d", core.ErrVersionNotIncreasing, p.logic.Version(), logic.Version())
	}

	p.log.WithFields(logrus.Fields{
		"from": p.logic.Version(),
		"to":   logic.Version(),
	}).Info("logic upgraded")
	p.logic = logic
	return nil
}

func (p *Proxy) Bid(ctx context.Context, bidder common.Address, amount *uint256.Int) (*core.Receipt, error) {
	a, logic, err := p.current()
	if err != nil {
		return nil, err
	}
	return logic.Bid(ctx, a, bidder, amount)
}

// BidWithPermit needs a logic version that implements PermitLogic.
func (p *Proxy) BidWithPermit(ctx context.Context, sp permit.Signed) (*core.Receipt, error) {
	a, logic, err := p.current()
	if err != nil {
		return nil, err
	}
	pl, ok := logic.(PermitLogic)
	if !ok {
		return nil, fmt.Errorf("bid with permit on logic v%d: %w", logic.Version(), core.ErrUnsupported)
	}
	return pl.BidWithPermit(ctx, a, sp)
}

func (p *Proxy) CurrentPrice() (*uint256.Int, error) {
	a, logic, err := p.current()
	if err != nil {
		return nil, err
	}
	return logic.CurrentPrice(a), nil
}

func (p *Proxy) PriceAt(now uint64) (*uint256.Int, error) {
	a, _, err := p.current()
	if err != nil {
		return nil, err
	}
	return a.PriceAt(now), nil
}

func (p *Proxy) Winner() (common.Address, bool, error) {
	a, _, err := p.current()
	if err != nil {
		return common.Address{}, false, err
	}
	winner, ok := a.Winner()
	return winner, ok, nil
}

// Status is the auction snapshot stamped with the active logic version.
func (p *Proxy) Status() (core.Status, error) {
	a, logic, err := p.current()
	if err != nil {
		return core.Status{}, err
	}
	s := a.Status()
	s.Version = logic.Version()
	return s, nil
}

// Auction exposes the stable storage.
func (p *Proxy) Auction() (*auction.Auction, error) {
	a, _, err := p.current()
	return a, err
}

func (p *Proxy) current() (*auction.Auction, Logic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, nil, core.ErrNotInitialized
	}
	return p.auction, p.logic, nil
}
