package auctionapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/permit"
)

func TestStatusFromCore(t *testing.T) {
	token := common.HexToAddress("0x0000000000000000000000000000000000000020")
	s := core.Status{
		AuctionID:    "a-1",
		Address:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Variant:      core.VariantNFTToken,
		Creator:      common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		ReservePrice: uint256.NewInt(400),
		Decrement:    uint256.NewInt(10),
		Duration:     10,
		StartTime:    1000,
		Now:          1003,
		CurrentPrice: uint256.NewInt(470),
		Version:      2,
		Asset:        &core.AssetRef{Contract: common.HexToAddress("0x0000000000000000000000000000000000000721"), TokenID: uint256.NewInt(7)},
		PaymentToken: &token,
	}

	out := StatusFromCore(s)
	check.Equal(t, TypeStatus, out.Type)
	check.Equal(t, "nft-token", out.Variant)
	check.Equal(t, "400", out.ReservePrice)
	check.Equal(t, "470", out.CurrentPrice)
	check.Equal(t, "", out.Winner)
	check.Equal(t, "7", out.Asset.TokenID)
	check.Equal(t, token.Hex(), out.PaymentToken)
	check.Equal(t, uint64(2), out.Version)

	s.Winner = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	s.Asset = nil
	s.PaymentToken = nil
	out = StatusFromCore(s)
	check.Equal(t, s.Winner.Hex(), out.Winner)
	check.Nil(t, out.Asset)
	check.Equal(t, "", out.PaymentToken)
}

func TestPermitBidRequest_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)
	domain := permit.Domain{Name: "E20Tkn", Version: "1", ChainID: 31337, VerifyingContract: common.HexToAddress("0x20")}
	sp, err := permit.Sign(domain, permit.Permit{
		Owner:    crypto.PubkeyToAddress(key.PublicKey),
		Spender:  common.HexToAddress("0xaa"),
		Value:    uint256.NewInt(500),
		Nonce:    3,
		Deadline: 2000,
	}, key)
	assert.NoError(t, err)

	req := PermitBidRequestFrom(sp)
	check.Equal(t, TypePermitBid, req.Type)
	check.Equal(t, "500", req.Value)

	back, err := req.Signed()
	assert.NoError(t, err)
	check.Equal(t, sp.Owner, back.Owner)
	check.Equal(t, sp.Spender, back.Spender)
	check.Equal(t, "500", back.Value.Dec())
	check.Equal(t, sp.Nonce, back.Nonce)
	check.Equal(t, sp.Deadline, back.Deadline)
	check.Equal(t, []byte(sp.Signature), []byte(back.Signature))

	owner, err := permit.Recover(domain, back)
	assert.NoError(t, err)
	check.Equal(t, sp.Owner, owner)
}

func TestPermitBidRequest_Malformed(t *testing.T) {
	base := PermitBidRequest{
		Owner:     "0x00000000000000000000000000000000000000b1",
		Spender:   "0x00000000000000000000000000000000000000aa",
		Value:     "1",
		Signature: "0x00",
	}
	cases := map[string]func(r *PermitBidRequest){
		"owner":     func(r *PermitBidRequest) { r.Owner = "nope" },
		"spender":   func(r *PermitBidRequest) { r.Spender = "" },
		"value":     func(r *PermitBidRequest) { r.Value = "-1" },
		"signature": func(r *PermitBidRequest) { r.Signature = "zz" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			_, err := r.Signed()
			check.True(t, errors.Is(err, core.ErrInvalidBid))
		})
	}
}

func TestBidRequest_Intent(t *testing.T) {
	key, err := crypto.GenerateKey()
	assert.NoError(t, err)
	domain := permit.RequestDomain(common.HexToAddress("0x00000000000000000000000000000000000000aa"), 1)
	intent := permit.BidIntent{Bidder: crypto.PubkeyToAddress(key.PublicKey), Amount: uint256.NewInt(450), Deadline: 9}
	sig, err := permit.SignMessage(domain, intent, key)
	assert.NoError(t, err)

	req := BidRequestFrom(intent, sig)
	check.Equal(t, TypeBid, req.Type)
	back, backSig, err := req.Intent()
	assert.NoError(t, err)
	check.Equal(t, intent.Bidder, back.Bidder)
	check.Equal(t, "450", back.Amount.Dec())
	check.Equal(t, uint64(9), back.Deadline)

	signer, err := permit.RecoverMessage(domain, back, backSig)
	assert.NoError(t, err)
	check.Equal(t, intent.Bidder, signer)

	req.Signature = ""
	_, _, err = req.Intent()
	check.True(t, errors.Is(err, core.ErrInvalidBid))
}

func TestUpgradeRequest_Intent(t *testing.T) {
	_, _, err := UpgradeRequest{Caller: "nope", Signature: "0x00"}.Intent()
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))

	_, _, err = UpgradeRequest{Caller: "0x00000000000000000000000000000000000000ad"}.Intent()
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))

	intent := permit.UpgradeIntent{Caller: common.HexToAddress("0x00000000000000000000000000000000000000ad"), Version: 2, Deadline: 7}
	back, sig, err := UpgradeRequestFrom(intent, []byte{1, 2}).Intent()
	assert.NoError(t, err)
	check.Equal(t, intent, back)
	check.Equal(t, 2, len(sig))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("amount", "1000000000000000000000")
	assert.NoError(t, err)
	check.Equal(t, "1000000000000000000000", v.Dec())

	_, err = ParseAmount("amount", "1.5")
	check.True(t, errors.Is(err, core.ErrInvalidBid))
	_, err = ParseAmount("amount", "")
	check.True(t, errors.Is(err, core.ErrInvalidBid))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(fmt.Errorf("bid: %w", core.ErrPriceNotMet))
	check.Equal(t, TypeErrorResponse, resp.Type)
	check.Equal(t, string(core.ClassAdmission), resp.ErrorClass)
	check.Equal(t, "", COSEBase64(nil))
	check.Equal(t, "AQI=", COSEBase64([]byte{1, 2}))
}
