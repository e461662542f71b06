package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/config"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/events"
	"github.com/cloudx-io/dutchauction/httpapi"
	"github.com/cloudx-io/dutchauction/receipts"
	"github.com/cloudx-io/dutchauction/server"
	"github.com/cloudx-io/dutchauction/service"
	"github.com/cloudx-io/dutchauction/upgrade"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	config.RegisterAuctionFlags(serveCmd.Flags())
	config.RegisterServerFlags(serveCmd.Flags())
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open an auction and serve it over the socket and HTTP transports",
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
		balances, err := c.Auction.Balances()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id := uuid.New()
		l, err := newLedgers(ctx, cfg, c.Auction.ChainID, auction.AddressFor(id), balances)
		if err != nil {
			return err
		}

		opts := service.Options{Logger: log, ChainID: c.Auction.ChainID}
		if c.Server.SignReceipts {
			if opts.Signer, err = receipts.NewSigner(); err != nil {
				return err
			}
		}
		if c.Server.AttestKey {
			attester, err := receipts.NitroAttester()
			if err != nil {
				log.WithError(err).Warn("NSM unavailable, key requests will not be attested")
			} else {
				opts.Attester = attester
			}
		}
		if opts.Store, err = openStore(ctx, c.Storage, log); err != nil {
			return err
		}
		defer opts.Store.Close()

		if c.MQTT.Broker != "" {
			publisher, err := events.NewMQTTPublisher(events.MQTTOpts{
				Broker:   c.MQTT.Broker,
				Port:     c.MQTT.Port,
				ClientID: c.MQTT.ClientID,
				UserName: c.MQTT.UserName,
				Password: c.MQTT.Password,
			})
			if err != nil {
				return err
			}
			defer publisher.Close()
			opts.Publisher = publisher
		}

		logic, err := upgrade.LogicFor(c.Server.LogicVersion)
		if err != nil {
			return err
		}
		svc := service.New(upgrade.NewProxy(logic, log), opts)
		clock := core.NewSystemClock(time.Unix(0, 0), c.Auction.TimeUnit)
		err = svc.Open(ctx, admin, cfg, l.collaborators(),
			auction.WithID(id), auction.WithClock(clock), auction.WithLogger(log))
		if err != nil {
			return err
		}

		listener, err := server.Listen(c.Server.Transport, c.Server.ListenAddress, c.Server.VsockPort)
		if err != nil {
			return err
		}

		errs := make(chan error, 2)
		go func() {
			errs <- server.New(svc, c.Server.MaxWorkers, log).Serve(ctx, listener)
		}()

		if c.Server.HTTPAddress != "" {
			httpSrv := httpapi.New(svc, log).Server(c.Server.HTTPAddress, httpapi.ServerParams{
				ReadTimeout:       10 * time.Second,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       10 * time.Second,
			})
			go func() {
				log.Infof("HTTP bridge starting on %s ...", c.Server.HTTPAddress)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()
		}

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case err := <-errs:
			return err
		}
	},
}
