package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/dutchauction/config"
	"github.com/cloudx-io/dutchauction/core"
)

func init() {
	rootCmd.AddCommand(priceCmd)
	config.RegisterAuctionFlags(priceCmd.Flags())
	priceCmd.Flags().StringVar(&outputFormat, "format", outputFormatDefault, "Output format: text or json")
}

type priceRow struct {
	Elapsed   uint64 `json:"elapsed"`
	BaseUnits string `json:"base_units"`
	Price     string `json:"price"`
	Expired   bool   `json:"expired"`
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Print the price schedule for the configured auction",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg, err := c.Auction.AuctionConfig()
		if err != nil {
			return err
		}
		rows := priceTable(cfg, c.Auction.Decimals)
		if outputFormat == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		return writePriceTable(cmd.OutOrStdout(), rows)
	},
}

// priceTable lists every unit of the window plus the first expired one.
func priceTable(cfg core.AuctionConfig, decimals int32) []priceRow {
	schedule := core.NewPriceSchedule(cfg, 0)
	rows := make([]priceRow, 0, cfg.Duration+2)
	for elapsed := uint64(0); elapsed <= cfg.Duration+1; elapsed++ {
		price := schedule.PriceAt(elapsed)
		rows = append(rows, priceRow{
			Elapsed:   elapsed,
			BaseUnits: price.Dec(),
			Price:     core.FormatUnits(price, decimals),
			Expired:   schedule.Expired(elapsed),
		})
	}
	return rows
}

func writePriceTable(out io.Writer, rows []priceRow) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ELAPSED\tPRICE\tBASE UNITS\t")
	for _, r := range rows {
		status := ""
		if r.Expired {
			status = "expired"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Elapsed, r.Price, r.BaseUnits, status)
	}
	return w.Flush()
}
