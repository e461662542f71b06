package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/dutchauction/config"
)

var rootCmd = &cobra.Command{
	Use:   "dutchauction",
	Short: "Descending-price auction settlement engine",
	Long: `dutchauction runs a single Dutch auction: the price falls by a fixed
decrement every time unit until it reaches the reserve, and the first bid at
or above the current price buys the asset.

Every flag can also be set through the environment with the DUTCH_AUCTION_
prefix, e.g. DUTCH_AUCTION_RESERVE_PRICE=1.5.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	config.RegisterLogFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
