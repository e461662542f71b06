package auction

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
)

type Option func(*Auction)

// WithClock replaces the default Unix-seconds clock.
func WithClock(c core.Clock) Option {
	return func(a *Auction) {
		if c != nil {
			a.clock = c
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(a *Auction) {
		a.log = log
	}
}

// WithID fixes the auction id, and with it the auction address, so the
// creator can approve the auction before it opens.
func WithID(id uuid.UUID) Option {
	return func(a *Auction) {
		a.id = id
	}
}

func WithObserver(o Observer) Option {
	return func(a *Auction) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}
