package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudx-io/dutchauction/config"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/settlement"
	"github.com/cloudx-io/dutchauction/store"
	"github.com/cloudx-io/dutchauction/tokens"
)

// loadConfig binds the command's flags to a fresh viper instance.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v := config.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, nil, err
	}
	c, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return c, v, nil
}

func newLogger(level string) *logrus.Entry {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logrus.NewEntry(logger).WithField("version", Version)
}

// ledgers are the in-memory contracts an auction settles against when no
// external chain is attached.
type ledgers struct {
	bank  *tokens.NativeLedger
	nft   *tokens.ERC721
	token *tokens.ERC20
}

// newLedgers creates the ledgers cfg's variant needs, mints the asset to the
// creator with the auction approved as operator, and credits balances.
func newLedgers(ctx context.Context, cfg core.AuctionConfig, chainID uint64, auctionAddr common.Address, balances []config.Balance) (*ledgers, error) {
	l := &ledgers{}
	if cfg.Variant() != core.VariantNFTToken {
		l.bank = tokens.NewNativeLedger()
	}
	if cfg.Asset != nil {
		l.nft = tokens.NewERC721(cfg.Asset.Contract, "Collectible", "NFT")
		if err := l.nft.Mint(cfg.Creator, cfg.Asset.TokenID); err != nil {
			return nil, fmt.Errorf("mint asset: %w", err)
		}
		if err := l.nft.Approve(ctx, cfg.Creator, auctionAddr, cfg.Asset.TokenID); err != nil {
			return nil, fmt.Errorf("approve auction: %w", err)
		}
	}
	if cfg.PaymentToken != nil {
		l.token = tokens.NewERC20(*cfg.PaymentToken, "E20Tkn", "E20", core.DefaultDecimals, chainID)
	}

	for _, b := range balances {
		if l.token != nil {
			l.token.Mint(b.Owner, b.Amount)
		} else {
			l.bank.Mint(b.Owner, b.Amount)
		}
	}
	return l, nil
}

func (l *ledgers) collaborators() settlement.Collaborators {
	var c settlement.Collaborators
	if l.bank != nil {
		c.Bank = l.bank
	}
	if l.nft != nil {
		c.Assets = l.nft
	}
	if l.token != nil {
		c.Token = l.token
	}
	return c
}

// openStore picks the most durable configured receipt store.
func openStore(ctx context.Context, c config.Storage, log *logrus.Entry) (store.ReceiptStore, error) {
	switch {
	case c.PostgresURL != "":
		pg, err := store.NewPostgresStore(c.PostgresURL, store.PostgresOpts{
			MaxConnections:        c.MaxDBConnections,
			MaxIdleConnections:    c.MaxIdleConnections,
			MaxIdleTimeConnection: c.MaxIdleTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(); err != nil {
			return nil, err
		}
		log.Info("receipts archived in postgres")
		return pg, nil
	case c.RedisURI != "":
		rs, err := store.NewRedisStore(ctx, c.RedisURI, c.RedisTTL)
		if err != nil {
			return nil, err
		}
		log.Info("receipts cached in redis")
		return rs, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
