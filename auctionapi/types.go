// Package auctionapi holds the JSON wire types shared by the socket server,
// the HTTP bridge and their clients. Amounts travel as base-10 strings of
// base units; addresses as hex.
package auctionapi

import (
	"encoding/base64"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/receipts"
)

// Request types dispatched by the socket server.
const (
	TypePing          = "ping"
	TypeStatus        = "status"
	TypePrice         = "price"
	TypeBid           = "bid"
	TypePermitBid     = "permit_bid"
	TypeUpgrade       = "upgrade"
	TypeKeyRequest    = "key_request"
	TypeReceipt       = "receipt"
	TypeErrorResponse = "error"
)

// Envelope is decoded first to pick the request type.
type Envelope struct {
	Type string `json:"type"`
}

type PriceRequest struct {
	Type string `json:"type"`
	// TimeUnit defaults to the auction clock's current unit.
	TimeUnit *uint64 `json:"time_unit,omitempty"`
}

// BidRequest must be signed by Bidder as a permit.BidIntent under the
// auction's request domain.
type BidRequest struct {
	Type      string `json:"type"`
	Bidder    string `json:"bidder"`
	Amount    string `json:"amount"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

// PermitBidRequest carries an EIP-2612 permit signed by the bidder.
type PermitBidRequest struct {
	Type      string `json:"type"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"` // 0x-prefixed 65 bytes
}

// UpgradeRequest must be signed by Caller as a permit.UpgradeIntent.
type UpgradeRequest struct {
	Type      string `json:"type"`
	Caller    string `json:"caller"`
	Version   uint64 `json:"version"`
	Deadline  uint64 `json:"deadline"`
	Signature string `json:"signature"`
}

type ReceiptRequest struct {
	Type      string `json:"type"`
	ReceiptID string `json:"receipt_id"`
}

type AssetView struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
}

type StatusResponse struct {
	Type         string     `json:"type"`
	AuctionID    string     `json:"auction_id"`
	Address      string     `json:"address"`
	Variant      string     `json:"variant"`
	Creator      string     `json:"creator"`
	ReservePrice string     `json:"reserve_price"`
	Decrement    string     `json:"decrement"`
	Duration     uint64     `json:"duration"`
	StartTime    uint64     `json:"start_time"`
	Now          uint64     `json:"now"`
	CurrentPrice string     `json:"current_price"`
	Winner       string     `json:"winner,omitempty"`
	Ended        bool       `json:"ended"`
	Expired      bool       `json:"expired"`
	Version      uint64     `json:"version"`
	ChainID      uint64     `json:"chain_id"`
	ConfigHash   string     `json:"config_hash"`
	Asset        *AssetView `json:"asset,omitempty"`
	PaymentToken string     `json:"payment_token,omitempty"`
}

type PriceResponse struct {
	Type     string `json:"type"`
	TimeUnit uint64 `json:"time_unit"`
	Price    string `json:"price"`
}

// BidResponse returns the receipt and, when a signer is configured, its
// COSE_Sign1 encoding in base64.
type BidResponse struct {
	Type          string            `json:"type"`
	Success       bool              `json:"success"`
	Receipt       *receipts.Payload `json:"receipt,omitempty"`
	SignedReceipt string            `json:"signed_receipt,omitempty"`
}

type UpgradeResponse struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

type KeyResponse struct {
	Type           string `json:"type"`
	KeyAlgorithm   string `json:"key_algorithm"`
	PublicKey      string `json:"public_key"`                // PEM format
	KeyAttestation string `json:"key_attestation,omitempty"` // base64 COSE, enclave only
}

type ReceiptResponse struct {
	Type          string           `json:"type"`
	Receipt       receipts.Payload `json:"receipt"`
	SignedReceipt string           `json:"signed_receipt"`
}

type PingResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Type       string `json:"type"`
	ErrorClass string `json:"error_class"`
	Message    string `json:"message"`
}

// NewErrorResponse classifies err for the wire.
func NewErrorResponse(err error) ErrorResponse {
	return ErrorResponse{
		Type:       TypeErrorResponse,
		ErrorClass: string(core.Classify(err)),
		Message:    err.Error(),
	}
}

func StatusFromCore(s core.Status) StatusResponse {
	out := StatusResponse{
		Type:         TypeStatus,
		AuctionID:    s.AuctionID,
		Address:      s.Address.Hex(),
		Variant:      s.Variant.String(),
		Creator:      s.Creator.Hex(),
		ReservePrice: decOrZero(s.ReservePrice),
		Decrement:    decOrZero(s.Decrement),
		Duration:     s.Duration,
		StartTime:    s.StartTime,
		Now:          s.Now,
		CurrentPrice: decOrZero(s.CurrentPrice),
		Ended:        s.Ended,
		Expired:      s.Expired,
		Version:      s.Version,
		ConfigHash:   s.ConfigHash,
	}
	if s.Winner != (common.Address{}) {
		out.Winner = s.Winner.Hex()
	}
	if s.Asset != nil {
		out.Asset = &AssetView{Contract: s.Asset.Contract.Hex(), TokenID: decOrZero(s.Asset.TokenID)}
	}
	if s.PaymentToken != nil {
		out.PaymentToken = s.PaymentToken.Hex()
	}
	return out
}

// Signed converts the request to a permit. Malformed fields are
// core.ErrInvalidBid; signature validity is checked later by the token.
func (r PermitBidRequest) Signed() (permit.Signed, error) {
	owner, err := ParseAddress("owner", r.Owner)
	if err != nil {
		return permit.Signed{}, err
	}
	spender, err := ParseAddress("spender", r.Spender)
	if err != nil {
		return permit.Signed{}, err
	}
	value, err := ParseAmount("value", r.Value)
	if err != nil {
		return permit.Signed{}, err
	}
	sig, err := hexutil.Decode(r.Signature)
	if err != nil {
		return permit.Signed{}, fmt.Errorf("%w: signature: %v", core.ErrInvalidBid, err)
	}
	return permit.Signed{
		Permit: permit.Permit{
			Owner:    owner,
			Spender:  spender,
			Value:    value,
			Nonce:    r.Nonce,
			Deadline: r.Deadline,
		},
		Signature: sig,
	}, nil
}

// Intent returns the signed bid the request carries. Malformed fields are
// core.ErrInvalidBid.
func (r BidRequest) Intent() (permit.BidIntent, []byte, error) {
	bidder, err := ParseAddress("bidder", r.Bidder)
	if err != nil {
		return permit.BidIntent{}, nil, err
	}
	amount, err := ParseAmount("amount", r.Amount)
	if err != nil {
		return permit.BidIntent{}, nil, err
	}
	sig, err := decodeSignature(r.Signature)
	if err != nil {
		return permit.BidIntent{}, nil, fmt.Errorf("%w: %v", core.ErrInvalidBid, err)
	}
	return permit.BidIntent{Bidder: bidder, Amount: amount, Deadline: r.Deadline}, sig, nil
}

func BidRequestFrom(b permit.BidIntent, signature []byte) BidRequest {
	return BidRequest{
		Type:      TypeBid,
		Bidder:    b.Bidder.Hex(),
		Amount:    decOrZero(b.Amount),
		Deadline:  b.Deadline,
		Signature: hexutil.Encode(signature),
	}
}

// Intent returns the signed upgrade the request carries. Malformed fields are
// core.ErrUnauthorizedUpgrade.
func (r UpgradeRequest) Intent() (permit.UpgradeIntent, []byte, error) {
	if !common.IsHexAddress(r.Caller) {
		return permit.UpgradeIntent{}, nil, fmt.Errorf("%w: caller %q is not an address", core.ErrUnauthorizedUpgrade, r.Caller)
	}
	sig, err := decodeSignature(r.Signature)
	if err != nil {
		return permit.UpgradeIntent{}, nil, fmt.Errorf("%w: %v", core.ErrUnauthorizedUpgrade, err)
	}
	return permit.UpgradeIntent{
		Caller:   common.HexToAddress(r.Caller),
		Version:  r.Version,
		Deadline: r.Deadline,
	}, sig, nil
}

func UpgradeRequestFrom(u permit.UpgradeIntent, signature []byte) UpgradeRequest {
	return UpgradeRequest{
		Type:      TypeUpgrade,
		Caller:    u.Caller.Hex(),
		Version:   u.Version,
		Deadline:  u.Deadline,
		Signature: hexutil.Encode(signature),
	}
}

func decodeSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("signature is required")
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("signature: %v", err)
	}
	return sig, nil
}

// PermitBidRequestFrom is the inverse of PermitBidRequest.Signed.
func PermitBidRequestFrom(sp permit.Signed) PermitBidRequest {
	return PermitBidRequest{
		Type:      TypePermitBid,
		Owner:     sp.Owner.Hex(),
		Spender:   sp.Spender.Hex(),
		Value:     decOrZero(sp.Value),
		Nonce:     sp.Nonce,
		Deadline:  sp.Deadline,
		Signature: hexutil.Encode(sp.Signature),
	}
}

func ParseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", core.ErrInvalidBid, field, s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount accepts a base-10 integer of base units.
func ParseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is required", core.ErrInvalidBid, field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", core.ErrInvalidBid, field, s, err)
	}
	return v, nil
}

// COSEBase64 is the transport form of a signed receipt.
func COSEBase64(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
