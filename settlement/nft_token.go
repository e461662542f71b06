package settlement

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/core"
)

type nftTokenEngine struct {
	token  PaymentToken
	assets AssetContract
	log    *logrus.Entry
}

func (*nftTokenEngine) Variant() core.Variant {
	return core.VariantNFTToken
}

// Settle checks allowance before balance, then pulls tokens into escrow with
// the auction as spender. A refund returns the tokens and, when the token is
// an AllowanceGranter, the allowance they consumed.
func (e *nftTokenEngine) Settle(ctx context.Context, o Order) error {
	if err := e.checkFunds(ctx, o); err != nil {
		e.log.WithError(err).WithField("bidder", o.Bidder.Hex()).Info("token payment precondition not met")
		return err
	}

	return settleWithEscrow(ctx, e.log, e.assets, o, escrowLegs{
		pull: func(ctx context.Context) error {
			if err := e.token.TransferFrom(ctx, o.Escrow, o.Bidder, o.Escrow, o.Amount); err != nil {
				return fmt.Errorf("%w: %w", core.ErrPaymentFailed, err)
			}
			return nil
		},
		refund: func(ctx context.Context) error {
			if err := e.token.Transfer(ctx, o.Escrow, o.Bidder, o.Amount); err != nil {
				return err
			}
			return e.restoreAllowance(ctx, o)
		},
		release: func(ctx context.Context) error {
			return e.token.Transfer(ctx, o.Escrow, o.Creator, o.Amount)
		},
	})
}

func (e *nftTokenEngine) restoreAllowance(ctx context.Context, o Order) error {
	granter, ok := e.token.(AllowanceGranter)
	if !ok {
		e.log.WithField("bidder", o.Bidder.Hex()).Warn("token cannot restore allowance after refund")
		return nil
	}
	current, err := e.token.Allowance(ctx, o.Bidder, o.Escrow)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	restored, overflow := new(uint256.Int).AddOverflow(current, o.Amount)
	if overflow {
		restored.SetAllOne()
	}
	if err := granter.Approve(ctx, o.Bidder, o.Escrow, restored); err != nil {
		return fmt.Errorf("restore allowance: %w", err)
	}
	return nil
}

func (e *nftTokenEngine) checkFunds(ctx context.Context, o Order) error {
	allowance, err := e.token.Allowance(ctx, o.Bidder, o.Escrow)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Lt(o.Amount) {
		return e.shortfall(core.ErrInsufficientAllowance, o.Amount, allowance)
	}

	balance, err := e.token.BalanceOf(ctx, o.Bidder)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance.Lt(o.Amount) {
		return e.shortfall(core.ErrInsufficientBalance, o.Amount, balance)
	}
	return nil
}

func (e *nftTokenEngine) shortfall(kind error, required, available *uint256.Int) error {
	return &core.TokenShortfallError{
		Token:     e.token.Address(),
		Symbol:    e.token.Symbol(),
		Kind:      kind,
		Required:  required.Clone(),
		Available: available.Clone(),
	}
}
