// Package service is the request-level façade over an upgradeable auction.
// The socket server and the HTTP bridge both call into it; on every
// settlement it signs, stores and publishes the receipt.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/dutchauction/auction"
	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/events"
	"github.com/cloudx-io/dutchauction/permit"
	"github.com/cloudx-io/dutchauction/receipts"
	"github.com/cloudx-io/dutchauction/settlement"
	"github.com/cloudx-io/dutchauction/store"
	"github.com/cloudx-io/dutchauction/upgrade"
)

type Options struct {
	// Signer is optional; without it receipts are stored unsigned.
	Signer *receipts.Signer
	// Attester is optional; without it key requests carry no attestation.
	Attester  receipts.Attester
	Store     store.ReceiptStore
	Publisher events.Publisher
	Logger    *logrus.Entry
	Now       func() time.Time
	// ChainID scopes signed bid and upgrade requests.
	ChainID uint64
}

type Service struct {
	proxy     *upgrade.Proxy
	signer    *receipts.Signer
	attester  receipts.Attester
	store     store.ReceiptStore
	publisher events.Publisher
	log       *logrus.Entry
	now       func() time.Time
	chainID   uint64

	mu       sync.Mutex
	requests *permit.RequestVerifier
}

func New(proxy *upgrade.Proxy, opts Options) *Service {
	s := &Service{
		proxy:     proxy,
		signer:    opts.Signer,
		attester:  opts.Attester,
		store:     opts.Store,
		publisher: opts.Publisher,
		log:       opts.Logger,
		now:       opts.Now,
		chainID:   opts.ChainID,
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.New())
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = s.log.WithField("package", "Service")
	return s
}

// Open initializes the proxy with the service registered as settlement observer.
func (s *Service) Open(ctx context.Context, admin common.Address, cfg core.AuctionConfig, collab settlement.Collaborators, opts ...auction.Option) error {
	opts = append(opts, auction.WithObserver(s))
	return s.proxy.Initialize(ctx, admin, cfg, collab, opts...)
}

// AuctionSettled signs, stores and publishes a receipt. Failures here are
// logged and never undo the sale.
func (s *Service) AuctionSettled(ctx context.Context, r core.Receipt) {
	log := s.log.WithFields(logrus.Fields{
		"auction": r.AuctionID,
		"receipt": r.ID,
	})

	payload := receipts.PayloadFromReceipt(r)
	var signed []byte
	if s.signer != nil {
		p, cose, err := s.signer.SignReceipt(r)
		if err != nil {
			log.WithError(err).Error("failed to sign receipt")
		} else {
			payload, signed = *p, cose
		}
	}

	rec := store.Record{Payload: payload, COSE: signed, StoredAt: s.now().UTC()}
	if err := s.store.Put(ctx, rec); err != nil {
		log.WithError(err).Error("failed to store receipt")
	}

	err := s.publisher.Publish(ctx, events.Event{
		Kind:      events.KindSettled,
		AuctionID: r.AuctionID,
		Receipt:   &payload,
		Time:      s.now().UTC(),
	})
	if err != nil {
		log.WithError(err).Warn("failed to publish settlement")
	}
}

func (s *Service) Ping() auctionapi.PingResponse {
	return auctionapi.PingResponse{Type: "pong", Status: "ok"}
}

func (s *Service) Status() (*auctionapi.StatusResponse, error) {
	status, err := s.proxy.Status()
	if err != nil {
		return nil, err
	}
	resp := auctionapi.StatusFromCore(status)
	resp.ChainID = s.chainID
	return &resp, nil
}

// Price quotes the schedule at req.TimeUnit, or now when it is unset.
func (s *Service) Price(req auctionapi.PriceRequest) (*auctionapi.PriceResponse, error) {
	if req.TimeUnit != nil {
		price, err := s.proxy.PriceAt(*req.TimeUnit)
		if err != nil {
			return nil, err
		}
		return &auctionapi.PriceResponse{Type: auctionapi.TypePrice, TimeUnit: *req.TimeUnit, Price: price.Dec()}, nil
	}
	status, err := s.proxy.Status()
	if err != nil {
		return nil, err
	}
	return &auctionapi.PriceResponse{Type: auctionapi.TypePrice, TimeUnit: status.Now, Price: status.CurrentPrice.Dec()}, nil
}

// requestVerifier is built on first use; the auction address is only known
// once the proxy is initialized.
func (s *Service) requestVerifier() (*permit.RequestVerifier, uint64, error) {
	status, err := s.proxy.Status()
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == nil {
		s.requests = permit.NewRequestVerifier(permit.RequestDomain(status.Address, s.chainID))
	}
	return s.requests, status.Now, nil
}

// Bid accepts a bid only when it is signed by the bidder it names. A signed
// request is consumed even when the auction then rejects the bid.
func (s *Service) Bid(ctx context.Context, req auctionapi.BidRequest) (*auctionapi.BidResponse, error) {
	intent, sig, err := req.Intent()
	if err != nil {
		return nil, err
	}
	verifier, now, err := s.requestVerifier()
	if err != nil {
		return nil, err
	}
	if err := verifier.Verify(intent, sig, now); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidBid, err)
	}
	receipt, err := s.proxy.Bid(ctx, intent.Bidder, intent.Amount)
	if err != nil {
		return nil, err
	}
	return s.bidResponse(ctx, receipt), nil
}

func (s *Service) BidWithPermit(ctx context.Context, req auctionapi.PermitBidRequest) (*auctionapi.BidResponse, error) {
	sp, err := req.Signed()
	if err != nil {
		return nil, err
	}
	receipt, err := s.proxy.BidWithPermit(ctx, sp)
	if err != nil {
		return nil, err
	}
	return s.bidResponse(ctx, receipt), nil
}

func (s *Service) bidResponse(ctx context.Context, receipt *core.Receipt) *auctionapi.BidResponse {
	payload := receipts.PayloadFromReceipt(*receipt)
	resp := &auctionapi.BidResponse{
		Type:    auctionapi.TypeBid,
		Success: true,
		Receipt: &payload,
	}
	if rec, err := s.store.Get(ctx, receipt.ID); err == nil {
		resp.Receipt = &rec.Payload
		resp.SignedReceipt = auctionapi.COSEBase64(rec.COSE)
	}
	return resp
}

// Upgrade moves the proxy to the logic registered for req.Version. The request
// must be signed by the caller it names; the proxy then checks that caller
// is the admin.
func (s *Service) Upgrade(ctx context.Context, req auctionapi.UpgradeRequest) (*auctionapi.UpgradeResponse, error) {
	intent, sig, err := req.Intent()
	if err != nil {
		return nil, err
	}
	logic, err := upgrade.LogicFor(intent.Version)
	if err != nil {
		return nil, err
	}
	verifier, now, err := s.requestVerifier()
	if err != nil {
		return nil, err
	}
	if err := verifier.Verify(intent, sig, now); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnauthorizedUpgrade, err)
	}
	if err := s.proxy.UpgradeTo(intent.Caller, logic); err != nil {
		return nil, err
	}

	status, err := s.proxy.Status()
	if err == nil {
		if err := s.publisher.Publish(ctx, events.Event{
			Kind:      events.KindUpgraded,
			AuctionID: status.AuctionID,
			Version:   status.Version,
			Time:      s.now().UTC(),
		}); err != nil {
			s.log.WithError(err).Warn("failed to publish upgrade")
		}
	}
	return &auctionapi.UpgradeResponse{Type: auctionapi.TypeUpgrade, Version: s.proxy.CurrentVersion()}, nil
}

// KeyInfo returns the receipt verification key, attested when possible.
func (s *Service) KeyInfo() (*auctionapi.KeyResponse, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("receipt signing disabled: %w", core.ErrUnsupported)
	}
	publicKeyPEM, err := s.signer.PublicKeyPEM()
	if err != nil {
		return nil, err
	}
	resp := &auctionapi.KeyResponse{
		Type:         auctionapi.TypeKeyRequest,
		KeyAlgorithm: receipts.KeyAlgorithm,
		PublicKey:    publicKeyPEM,
	}
	if s.attester != nil {
		attestation, err := receipts.AttestKey(s.attester, s.signer, s.log)
		if err != nil {
			return nil, err
		}
		resp.KeyAttestation = base64.StdEncoding.EncodeToString(attestation)
	}
	return resp, nil
}

func (s *Service) Receipt(ctx context.Context, receiptID string) (*auctionapi.ReceiptResponse, error) {
	rec, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return &auctionapi.ReceiptResponse{
		Type:          auctionapi.TypeReceipt,
		Receipt:       rec.Payload,
		SignedReceipt: auctionapi.COSEBase64(rec.COSE),
	}, nil
}

// IsNotFound reports whether err means the requested receipt is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
