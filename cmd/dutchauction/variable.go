package main

var (
	outputFormat string
	bidderKey    string
	bidAt        uint64
	bidAmount    string
)

var (
	outputFormatDefault = "text"
	// Well-known development key; never holds real funds.
	bidderKeyDefault = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	bidAtDefault     = uint64(0)
	bidAmountDefault = ""
)

var Version = "dev"
