package settlement

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
)

// nativeEngine pays the creator directly. There is no asset leg, so a single
// transfer is the whole exchange.
type nativeEngine struct {
	bank NativeBank
	log  *logrus.Entry
}

func (*nativeEngine) Variant() core.Variant {
	return core.VariantNative
}

func (e *nativeEngine) Settle(ctx context.Context, o Order) error {
	if err := e.bank.Transfer(ctx, o.Bidder, o.Creator, o.Amount); err != nil {
		e.log.WithError(err).WithField("bidder", o.Bidder.Hex()).Warn("payment to creator failed")
		return fmt.Errorf("%w: %w", core.ErrPaymentFailed, err)
	}
	e.log.WithFields(logrus.Fields{
		"bidder": o.Bidder.Hex(),
		"amount": o.Amount.Dec(),
	}).Info("payment delivered to creator")
	return nil
}
