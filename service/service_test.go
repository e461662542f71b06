package service_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/events"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/receipts"
	"github.com/cloudx-io/dutchauction/service"
	"github.com/cloudx-io/dutchauction/service/servicetest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() {}

type stubAttester struct{}

func (stubAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	doc, err := cbor.Marshal(map[string]any{
		"module_id": "test-enclave",
		"user_data": options.UserData,
		"nonce":     options.Nonce,
	})
	if err != nil {
		return nil, err
	}
	return cbor.Marshal([]any{[]byte{0x01}, map[string]any{}, doc, []byte{0x02}})
}

func TestService_StatusAndPrice(t *testing.T) {
	f := servicetest.New(t, service.Options{})

	status, err := f.Service.Status()
	assert.NoError(t, err)
	check.Equal(t, f.ID.String(), status.AuctionID)
	check.Equal(t, f.Address.Hex(), status.Address)
	check.Equal(t, "nft-token", status.Variant)
	check.Equal(t, "500", status.CurrentPrice)
	check.Equal(t, uint64(1), status.Version)
	check.Equal(t, servicetest.ChainID, status.ChainID)
	check.Equal(t, 64, len(status.ConfigHash))
	check.False(t, status.Ended)

	f.Clock.Advance(3)
	price, err := f.Service.Price(auctionapi.PriceRequest{})
	assert.NoError(t, err)
	check.Equal(t, "470", price.Price)
	check.Equal(t, servicetest.Start+3, price.TimeUnit)

	at := servicetest.Start + 10
	price, err = f.Service.Price(auctionapi.PriceRequest{TimeUnit: &at})
	assert.NoError(t, err)
	check.Equal(t, "400", price.Price)
}

func TestService_BidSignsStoresAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	f := servicetest.New(t, service.Options{Publisher: pub})
	f.ApproveBidder(t, 500)
	f.Clock.Advance(5)

	resp, err := f.Service.Bid(context.Background(), f.SignBid(t, 460, servicetest.Start+100))
	assert.NoError(t, err)
	check.True(t, resp.Success)
	check.Equal(t, "460", resp.Receipt.Amount)
	check.Equal(t, "450", resp.Receipt.Price)
	check.NotEqual(t, "", resp.SignedReceipt)

	signed, err := base64.StdEncoding.DecodeString(resp.SignedReceipt)
	assert.NoError(t, err)
	payload, err := receipts.Verify(signed, f.Signer.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, resp.Receipt.ReceiptID, payload.ReceiptID)

	// The stored payload is the one that was signed.
	check.NotEqual(t, int64(0), resp.Receipt.SignedAt)
	check.Equal(t, payload.SignedAt, resp.Receipt.SignedAt)
	check.Equal(t, *payload, *resp.Receipt)
	assert.Equal(t, 1, len(pub.events))
	check.Equal(t, payload.SignedAt, pub.events[0].Receipt.SignedAt)

	stored, err := f.Service.Receipt(context.Background(), resp.Receipt.ReceiptID)
	assert.NoError(t, err)
	check.Equal(t, resp.SignedReceipt, stored.SignedReceipt)

	check.Equal(t, events.KindSettled, pub.events[0].Kind)
	check.Equal(t, f.ID.String(), pub.events[0].AuctionID)

	status, err := f.Service.Status()
	assert.NoError(t, err)
	check.True(t, status.Ended)
	check.Equal(t, f.Bidder.Hex(), status.Winner)
}

func TestService_BidErrors(t *testing.T) {
	f := servicetest.New(t, service.Options{})
	ctx := context.Background()

	_, err := f.Service.Bid(ctx, auctionapi.BidRequest{Bidder: "nobody", Amount: "1"})
	check.True(t, errors.Is(err, core.ErrInvalidBid))

	_, err = f.Service.Bid(ctx, f.SignBid(t, 499, servicetest.Start+100))
	check.True(t, errors.Is(err, core.ErrPriceNotMet))

	// No allowance yet.
	_, err = f.Service.Bid(ctx, f.SignBid(t, 500, servicetest.Start+100))
	check.True(t, errors.Is(err, core.ErrInsufficientAllowance))
	check.Equal(t, core.ClassSettlement, core.Classify(err))

	f.Clock.Advance(servicetest.Duration + 1)
	_, err = f.Service.Bid(ctx, f.SignBid(t, 500, servicetest.Start+101))
	check.True(t, errors.Is(err, core.ErrExpired))

	_, err = f.Service.Receipt(ctx, "missing")
	check.True(t, service.IsNotFound(err))
}

func TestService_PublishFailureDoesNotUndoSale(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := servicetest.New(t, service.Options{Publisher: pub})
	f.ApproveBidder(t, 500)

	resp, err := f.Service.Bid(context.Background(), f.SignBid(t, 500, servicetest.Start+100))
	assert.NoError(t, err)
	check.True(t, resp.Success)

	owner, err := f.NFT.OwnerOf(context.Background(), servicetest.TokenID)
	assert.NoError(t, err)
	check.Equal(t, f.Bidder, owner)
}

func TestService_UpgradeThenPermitBid(t *testing.T) {
	pub := &recordingPublisher{}
	f := servicetest.New(t, service.Options{Publisher: pub})
	ctx := context.Background()

	sp := f.SignPermit(t, 500, servicetest.Start+100)
	_, err := f.Service.BidWithPermit(ctx, auctionapi.PermitBidRequestFrom(sp))
	check.True(t, errors.Is(err, core.ErrUnsupported))

	// Correctly signed, but the bidder is not the admin.
	_, err = f.Service.Upgrade(ctx, f.SignUpgrade(t, f.BidderKey, 2, servicetest.Start+100))
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))

	_, err = f.Service.Upgrade(ctx, f.SignUpgrade(t, servicetest.AdminKey, 9, servicetest.Start+100))
	check.True(t, errors.Is(err, core.ErrUnsupported))

	up, err := f.Service.Upgrade(ctx, f.SignUpgrade(t, servicetest.AdminKey, 2, servicetest.Start+100))
	assert.NoError(t, err)
	check.Equal(t, uint64(2), up.Version)
	assert.Equal(t, 1, len(pub.events))
	check.Equal(t, events.KindUpgraded, pub.events[0].Kind)
	check.Equal(t, uint64(2), pub.events[0].Version)

	resp, err := f.Service.BidWithPermit(ctx, auctionapi.PermitBidRequestFrom(sp))
	assert.NoError(t, err)
	check.Equal(t, f.Bidder.Hex(), resp.Receipt.Bidder)
	check.Equal(t, uint64(1), f.Token.Nonce(f.Bidder))
}

func TestService_BidRequiresBidderSignature(t *testing.T) {
	f := servicetest.New(t, service.Options{})
	f.ApproveBidder(t, 500)
	ctx := context.Background()

	// Unsigned.
	_, err := f.Service.Bid(ctx, auctionapi.BidRequest{Bidder: f.Bidder.Hex(), Amount: "500"})
	check.True(t, errors.Is(err, core.ErrInvalidBid))
	check.Equal(t, core.ClassAdmission, core.Classify(err))

	// Signed by someone else but naming the bidder.
	other, err := crypto.GenerateKey()
	assert.NoError(t, err)
	intent := permit.BidIntent{Bidder: f.Bidder, Amount: uint256.NewInt(500), Deadline: servicetest.Start + 100}
	sig, err := permit.SignMessage(permit.RequestDomain(f.Address, servicetest.ChainID), intent, other)
	assert.NoError(t, err)
	_, err = f.Service.Bid(ctx, auctionapi.BidRequestFrom(intent, sig))
	check.True(t, errors.Is(err, core.ErrInvalidBid))
	check.Equal(t, core.ClassAdmission, core.Classify(err))

	// Signed for another chain.
	sig, err = permit.SignMessage(permit.RequestDomain(f.Address, servicetest.ChainID+1), intent, f.BidderKey)
	assert.NoError(t, err)
	_, err = f.Service.Bid(ctx, auctionapi.BidRequestFrom(intent, sig))
	check.True(t, errors.Is(err, core.ErrInvalidBid))

	// Deadline already past on the auction clock.
	_, err = f.Service.Bid(ctx, f.SignBid(t, 500, servicetest.Start-1))
	check.True(t, errors.Is(err, core.ErrInvalidBid))

	status, err := f.Service.Status()
	assert.NoError(t, err)
	check.False(t, status.Ended)
	allowance, err := f.Token.Allowance(ctx, f.Bidder, f.Address)
	assert.NoError(t, err)
	check.Equal(t, "500", allowance.Dec())

	resp, err := f.Service.Bid(ctx, f.SignBid(t, 500, servicetest.Start))
	assert.NoError(t, err)
	check.Equal(t, f.Bidder.Hex(), resp.Receipt.Bidder)
}

func TestService_SignedRequestIsSingleUse(t *testing.T) {
	f := servicetest.New(t, service.Options{})
	ctx := context.Background()

	req := f.SignBid(t, 499, servicetest.Start+100)
	_, err := f.Service.Bid(ctx, req)
	check.True(t, errors.Is(err, core.ErrPriceNotMet))

	_, err = f.Service.Bid(ctx, req)
	check.True(t, errors.Is(err, core.ErrInvalidBid))
	check.Equal(t, core.ClassAdmission, core.Classify(err))
}

func TestService_UpgradeRequiresAdminSignature(t *testing.T) {
	f := servicetest.New(t, service.Options{})
	ctx := context.Background()

	// Naming the admin without holding the admin key.
	forged := f.SignUpgrade(t, f.BidderKey, 2, servicetest.Start+100)
	forged.Caller = servicetest.Admin.Hex()
	_, err := f.Service.Upgrade(ctx, forged)
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))
	check.Equal(t, core.ClassUpgrade, core.Classify(err))

	unsigned := auctionapi.UpgradeRequest{Caller: servicetest.Admin.Hex(), Version: 2}
	_, err = f.Service.Upgrade(ctx, unsigned)
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))
	check.Equal(t, uint64(1), f.Proxy.CurrentVersion())

	req := f.SignUpgrade(t, servicetest.AdminKey, 2, servicetest.Start+100)
	_, err = f.Service.Upgrade(ctx, req)
	assert.NoError(t, err)
	check.Equal(t, uint64(2), f.Proxy.CurrentVersion())

	_, err = f.Service.Upgrade(ctx, req)
	check.True(t, errors.Is(err, core.ErrUnauthorizedUpgrade))
}

func TestService_KeyInfo(t *testing.T) {
	f := servicetest.New(t, service.Options{Attester: stubAttester{}})

	key, err := f.Service.KeyInfo()
	assert.NoError(t, err)
	check.Equal(t, receipts.KeyAlgorithm, key.KeyAlgorithm)
	pemStr, err := f.Signer.PublicKeyPEM()
	assert.NoError(t, err)
	check.Equal(t, pemStr, key.PublicKey)

	result, err := receipts.ValidateKeyAttestation(key.KeyAttestation, key.PublicKey)
	assert.NoError(t, err)
	check.True(t, result.IsValid())
}

func TestService_Ping(t *testing.T) {
	f := servicetest.New(t, service.Options{})
	check.Equal(t, "pong", f.Service.Ping().Type)
}
