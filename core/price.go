package core

import (
	"github.com/holiman/uint256"
)

// PriceSchedule is the linear descending price of a single auction.
type PriceSchedule struct {
	Reserve   *uint256.Int
	Decrement *uint256.Int
	Duration  uint64
	StartTime uint64
}

// NewPriceSchedule binds a config to the time unit the auction opened in.
func NewPriceSchedule(cfg AuctionConfig, startTime uint64) PriceSchedule {
	return PriceSchedule{
		Reserve:   orZero(cfg.ReservePrice).Clone(),
		Decrement: orZero(cfg.Decrement).Clone(),
		Duration:  cfg.Duration,
		StartTime: startTime,
	}
}

// Elapsed returns now - StartTime clamped to [0, Duration].
func (p PriceSchedule) Elapsed(now uint64) uint64 {
	if now <= p.StartTime {
		return 0
	}
	elapsed := now - p.StartTime
	if elapsed > p.Duration {
		return p.Duration
	}
	return elapsed
}

// Expired reports whether more than Duration units have passed since StartTime.
// The last unit of the window (elapsed == Duration) is still open.
func (p PriceSchedule) Expired(now uint64) bool {
	return now > p.StartTime && now-p.StartTime > p.Duration
}

// PriceAt returns reserve + decrement*(duration - elapsed). Once the window
// has passed the price stays at the reserve.
//
// The config validation guarantees the starting price fits in 256 bits, and
// every later price is smaller, so the arithmetic here cannot wrap.
func (p PriceSchedule) PriceAt(now uint64) *uint256.Int {
	remaining := p.Duration - p.Elapsed(now)
	price := new(uint256.Int).Mul(orZero(p.Decrement), uint256.NewInt(remaining))
	return price.Add(price, orZero(p.Reserve))
}

// BidMeetsPrice returns true if the amount meets or exceeds the price.
func BidMeetsPrice(amount, price *uint256.Int) bool {
	return !orZero(amount).Lt(orZero(price))
}
