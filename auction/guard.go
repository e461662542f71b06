package auction

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/settlement"
)

// VerifyOwnership fails with core.ErrNotOwner unless creator currently owns
// the referenced asset. A token that does not exist is not owned by anyone.
func VerifyOwnership(ctx context.Context, assets settlement.AssetContract, ref core.AssetRef, creator common.Address) error {
	if assets == nil {
		return fmt.Errorf("%w: no asset contract for %s", core.ErrInvalidConfig, ref)
	}
	owner, err := assets.OwnerOf(ctx, ref.TokenID)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrNotOwner, ref, err)
	}
	if owner != creator {
		return fmt.Errorf("%w: %s is owned by %s, not %s", core.ErrNotOwner, ref, owner.Hex(), creator.Hex())
	}
	return nil
}
