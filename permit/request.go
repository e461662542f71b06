package permit

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
)

var (
	bidTypeHash     = crypto.Keccak256Hash([]byte("Bid(address bidder,uint256 amount,uint256 deadline)"))
	upgradeTypeHash = crypto.Keccak256Hash([]byte("Upgrade(address caller,uint256 version,uint256 deadline)"))
)

// RequestDomain scopes request signatures to one auction: the verifying
// contract is the auction's own address.
func RequestDomain(auction common.Address, chainID uint64) Domain {
	return Domain{
		Name:              "DutchAuction",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: auction,
	}
}

// Request is a typed message that names the account that must have signed it.
type Request interface {
	Message
	Signer() common.Address
	Expiry() uint64
}

// BidIntent authorizes one bid of Amount by Bidder.
type BidIntent struct {
	Bidder   common.Address
	Amount   *uint256.Int
	Deadline uint64
}

func (b BidIntent) StructHash() common.Hash {
	amount := b.Amount
	if amount == nil {
		amount = new(uint256.Int)
	}
	return crypto.Keccak256Hash(
		bidTypeHash.Bytes(),
		common.LeftPadBytes(b.Bidder.Bytes(), 32),
		word(amount),
		word(uint256.NewInt(b.Deadline)),
	)
}

func (b BidIntent) Signer() common.Address { return b.Bidder }
func (b BidIntent) Expiry() uint64         { return b.Deadline }

// UpgradeIntent authorizes moving the auction to logic Version.
type UpgradeIntent struct {
	Caller   common.Address
	Version  uint64
	Deadline uint64
}

func (u UpgradeIntent) StructHash() common.Hash {
	return crypto.Keccak256Hash(
		upgradeTypeHash.Bytes(),
		common.LeftPadBytes(u.Caller.Bytes(), 32),
		word(uint256.NewInt(u.Version)),
		word(uint256.NewInt(u.Deadline)),
	)
}

func (u UpgradeIntent) Signer() common.Address { return u.Caller }
func (u UpgradeIntent) Expiry() uint64         { return u.Deadline }

// RequestVerifier authenticates signed requests for one auction and accepts
// each signed digest once.
type RequestVerifier struct {
	domain Domain

	mu   sync.Mutex
	seen map[common.Hash]struct{}
}

func NewRequestVerifier(d Domain) *RequestVerifier {
	return &RequestVerifier{
		domain: d,
		seen:   make(map[common.Hash]struct{}),
	}
}

func (v *RequestVerifier) Domain() Domain {
	return v.domain
}

// Verify checks deadline, then signer, then replay. The digest is consumed
// only when every check passes. A deadline equal to now is still valid.
func (v *RequestVerifier) Verify(r Request, signature []byte, now uint64) error {
	if now > r.Expiry() {
		return fmt.Errorf("%w: deadline %d, now %d", core.ErrPermitExpired, r.Expiry(), now)
	}

	signer, err := RecoverMessage(v.domain, r, signature)
	if err != nil {
		return err
	}
	if signer != r.Signer() {
		return fmt.Errorf("%w: signed by %s, request names %s", core.ErrPermitInvalidSignature, signer.Hex(), r.Signer().Hex())
	}

	digest := Digest(v.domain, r)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[digest]; ok {
		return fmt.Errorf("%w: request %s", core.ErrPermitReplayed, digest.Hex())
	}
	v.seen[digest] = struct{}{}
	return nil
}
