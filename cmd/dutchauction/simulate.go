package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/config"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/receipts"
	"github.com/cloudx-io/dutchauction/service"
	"github.com/cloudx-io/dutchauction/upgrade"
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	config.RegisterAuctionFlags(simulateCmd.Flags())
	simulateCmd.Flags().StringVar(&bidderKey, "bidder-key", bidderKeyDefault, "hex private key the bidder signs the bid with")
	simulateCmd.Flags().Uint64Var(&bidAt, "bid-at", bidAtDefault, "time units after the start at which to bid")
	simulateCmd.Flags().StringVar(&bidAmount, "amount", bidAmountDefault, "bid amount in whole units (defaults to the price at --bid-at)")
}

type simulation struct {
	Bid    *auctionapi.BidResponse    `json:"bid,omitempty"`
	Error  *auctionapi.ErrorResponse  `json:"error,omitempty"`
	Status *auctionapi.StatusResponse `json:"status"`
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one auction on in-memory ledgers and print the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, v, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger(v.GetString(config.KeyLogLevel))

		cfg, err := c.Auction.AuctionConfig()
		if err != nil {
			return err
		}
		admin, err := c.Auction.AdminAddress()
		if err != nil {
			return err
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(bidderKey, "0x"))
		if err != nil {
			return fmt.Errorf("bidder key: %w", err)
		}

		var amount *uint256.Int
		if bidAmount != "" {
			if amount, err = core.ParseUnits(bidAmount, c.Auction.Decimals); err != nil {
				return err
			}
		} else {
			amount = core.NewPriceSchedule(cfg, 0).PriceAt(bidAt)
		}

		sim, err := runSimulation(cmd.Context(), simulationParams{
			cfg:       cfg,
			admin:     admin,
			chainID:   c.Auction.ChainID,
			bidderKey: key,
			amount:    amount,
			bidAt:     bidAt,
			opts:      service.Options{Logger: log, ChainID: c.Auction.ChainID},
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sim)
	},
}

type simulationParams struct {
	cfg       core.AuctionConfig
	admin     common.Address
	chainID   uint64
	bidderKey *ecdsa.PrivateKey
	amount    *uint256.Int
	bidAt     uint64
	opts      service.Options
}

// runSimulation funds the bidder with exactly the bid amount, approves the
// auction where the variant needs it, and bids p.bidAt units after the start
// with a request signed by p.bidderKey. A rejected bid is reported in the
// result, not as an error.
func runSimulation(ctx context.Context, p simulationParams) (*simulation, error) {
	id := uuid.New()
	addr := auction.AddressFor(id)
	bidder := crypto.PubkeyToAddress(p.bidderKey.PublicKey)

	l, err := newLedgers(ctx, p.cfg, p.chainID, addr, []config.Balance{{Owner: bidder, Amount: p.amount}})
	if err != nil {
		return nil, err
	}
	if l.token != nil {
		if err := l.token.Approve(ctx, bidder, addr, p.amount); err != nil {
			return nil, fmt.Errorf("approve auction: %w", err)
		}
	}

	if p.opts.ChainID == 0 {
		p.opts.ChainID = p.chainID
	}
	if p.opts.Signer == nil {
		if p.opts.Signer, err = receipts.NewSigner(); err != nil {
			return nil, err
		}
	}
	svc := service.New(upgrade.NewProxy(upgrade.Latest(), p.opts.Logger), p.opts)

	clock := core.NewManualClock(0)
	if err := svc.Open(ctx, p.admin, p.cfg, l.collaborators(), auction.WithID(id), auction.WithClock(clock)); err != nil {
		return nil, err
	}
	clock.Advance(p.bidAt)

	intent := permit.BidIntent{Bidder: bidder, Amount: p.amount, Deadline: p.bidAt + 1}
	sig, err := permit.SignMessage(permit.RequestDomain(addr, p.opts.ChainID), intent, p.bidderKey)
	if err != nil {
		return nil, fmt.Errorf("sign bid: %w", err)
	}

	sim := &simulation{}
	resp, err := svc.Bid(ctx, auctionapi.BidRequestFrom(intent, sig))
	if err != nil {
		errResp := auctionapi.NewErrorResponse(err)
		sim.Error = &errResp
	} else {
		sim.Bid = resp
	}

	if sim.Status, err = svc.Status(); err != nil {
		return nil, err
	}
	return sim, nil
}
