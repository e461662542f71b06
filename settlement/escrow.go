package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
)

// ErrOperatorNotApproved means the auction may not move the asset, so no
// payment is taken.
var ErrOperatorNotApproved = errors.New("auction is not an approved operator of the asset")

// escrowLegs are the payment movements of an asset sale. pull moves the bid
// into escrow, refund returns it to the bidder, release pays the creator.
type escrowLegs struct {
	pull    func(ctx context.Context) error
	refund  func(ctx context.Context) error
	release func(ctx context.Context) error
}

// settleWithEscrow runs payment before asset. The asset leg is checked first
// so an order that cannot deliver fails before any payment moves. If the
// transfer still fails the payment is refunded and the order fails with
// ErrAssetTransferFailed. A failed release happens after ownership has
// moved, so the sale stands and the proceeds stay in escrow.
func settleWithEscrow(ctx context.Context, log *logrus.Entry, assets AssetContract, o Order, legs escrowLegs) error {
	log = log.WithFields(logrus.Fields{
		"bidder": o.Bidder.Hex(),
		"amount": o.Amount.Dec(),
		"asset":  o.Asset.String(),
	})

	if err := checkAssetLeg(ctx, assets, o); err != nil {
		log.WithError(err).Info("asset leg cannot complete, no payment taken")
		return err
	}

	if err := legs.pull(ctx); err != nil {
		log.WithError(err).Warn("payment into escrow failed")
		return err
	}

	if err := assets.TransferFrom(ctx, o.Escrow, o.Creator, o.Bidder, o.Asset.TokenID); err != nil {
		log.WithError(err).Warn("asset transfer failed, refunding bidder")
		if refundErr := legs.refund(ctx); refundErr != nil {
			log.WithError(refundErr).Error("refund from escrow failed")
			return fmt.Errorf("%w: %w (refund failed: %v)", core.ErrAssetTransferFailed, err, refundErr)
		}
		return fmt.Errorf("%w: %w", core.ErrAssetTransferFailed, err)
	}

	if err := legs.release(ctx); err != nil {
		log.WithError(err).Error("asset delivered but releasing proceeds to creator failed; funds remain in escrow")
		return nil
	}

	log.Info("asset delivered and proceeds released")
	return nil
}

// checkAssetLeg verifies the creator still holds the asset and the escrow may
// transfer it.
func checkAssetLeg(ctx context.Context, assets AssetContract, o Order) error {
	owner, err := assets.OwnerOf(ctx, o.Asset.TokenID)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrAssetTransferFailed, err)
	}
	if owner != o.Creator {
		return fmt.Errorf("%w: %s owns %s, not the creator", core.ErrAssetTransferFailed, owner.Hex(), o.Asset)
	}
	if assets.GetApproved(ctx, o.Asset.TokenID) == o.Escrow || assets.IsApprovedForAll(ctx, owner, o.Escrow) {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrAssetTransferFailed, ErrOperatorNotApproved)
}
