package settlement

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
)

type nftNativeEngine struct {
	bank   NativeBank
	assets AssetContract
	log    *logrus.Entry
}

func (*nftNativeEngine) Variant() core.Variant {
	return core.VariantNFTNative
}

func (e *nftNativeEngine) Settle(ctx context.Context, o Order) error {
	return settleWithEscrow(ctx, e.log, e.assets, o, escrowLegs{
		pull: func(ctx context.Context) error {
			if err := e.bank.Transfer(ctx, o.Bidder, o.Escrow, o.Amount); err != nil {
				return fmt.Errorf("%w: %w", core.ErrPaymentFailed, err)
			}
			return nil
		},
		refund: func(ctx context.Context) error {
			return e.bank.Transfer(ctx, o.Escrow, o.Bidder, o.Amount)
		},
		release: func(ctx context.Context) error {
			return e.bank.Transfer(ctx, o.Escrow, o.Creator, o.Amount)
		},
	})
}
