package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeConfigHash fingerprints an auction config. Receipts carry it, and it
// feeds the receipt hash, so a verifier can tell which terms a sale settled under.
//
// Formula: SHA256(creator + "|" + reserve + "|" + decrement + "|" + duration + "|" + asset + "|" + token)
// Amounts are base-10 integers; absent asset and token are empty strings.
func ComputeConfigHash(cfg AuctionConfig) string {
	asset := ""
	if cfg.Asset != nil {
		asset = cfg.Asset.String()
	}
	token := ""
	if cfg.PaymentToken != nil {
		token = cfg.PaymentToken.Hex()
	}
	data := fmt.Sprintf("%s|%s|%s|%d|%s|%s",
		cfg.Creator.Hex(), amountString(cfg.ReservePrice), amountString(cfg.Decrement), cfg.Duration, asset, token)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeReceiptHash computes the settlement receipt hash.
//
// Formula: SHA256(receipt_id + "|" + auction_id + "|" + bidder + "|" + creator + "|" + amount + "|" + price + "|" + time + "|" + config_hash)
//
// The Hash field of the receipt is not an input.
func ComputeReceiptHash(r Receipt) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s",
		r.ID, r.AuctionID, r.Bidder.Hex(), r.Creator.Hex(), amountString(r.Amount), amountString(r.Price), r.Time, r.ConfigHash)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
