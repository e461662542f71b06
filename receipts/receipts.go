// Package receipts signs settlement receipts as COSE_Sign1 messages so a
// winner, creator or auditor can check a sale without trusting the transport.
package receipts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/dutchauction/core"
)

const (
	KeyAlgorithm = "ECDSA-P256"
	contentType  = "application/cbor"
)

// Payload is the signed body of a receipt. Amounts are base-10 strings and
// addresses are checksummed hex so the encoding is independent of Go types.
type Payload struct {
	ReceiptID    string `cbor:"receipt_id" json:"receipt_id"`
	AuctionID    string `cbor:"auction_id" json:"auction_id"`
	Variant      string `cbor:"variant" json:"variant"`
	Bidder       string `cbor:"bidder" json:"bidder"`
	Creator      string `cbor:"creator" json:"creator"`
	Amount       string `cbor:"amount" json:"amount"`
	Price        string `cbor:"price" json:"price"`
	Asset        string `cbor:"asset,omitempty" json:"asset,omitempty"`
	PaymentToken string `cbor:"payment_token,omitempty" json:"payment_token,omitempty"`
	TimeUnit     uint64 `cbor:"time_unit" json:"time_unit"`
	ConfigHash   string `cbor:"config_hash" json:"config_hash"`
	Hash         string `cbor:"hash" json:"hash"`
	SignedAt     int64  `cbor:"signed_at" json:"signed_at"`
}

// PayloadFromReceipt flattens a receipt for signing.
func PayloadFromReceipt(r core.Receipt) Payload {
	p := Payload{
		ReceiptID:  r.ID,
		AuctionID:  r.AuctionID,
		Variant:    r.Variant.String(),
		Bidder:     r.Bidder.Hex(),
		Creator:    r.Creator.Hex(),
		Amount:     r.Amount.Dec(),
		Price:      r.Price.Dec(),
		TimeUnit:   r.Time,
		ConfigHash: r.ConfigHash,
		Hash:       r.Hash,
	}
	if r.Asset != nil {
		p.Asset = r.Asset.String()
	}
	if r.PaymentToken != nil {
		p.PaymentToken = r.PaymentToken.Hex()
	}
	return p
}

// Signer holds the operator's receipt signing key.
type Signer struct {
	privateKey *ecdsa.PrivateKey // Keep private - sensitive!
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
	now        func() time.Time
}

// NewSigner generates a fresh P-256 key pair.
func NewSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return NewSignerFromKey(key)
}

func NewSignerFromKey(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &Signer{
		privateKey: key,
		PublicKey:  &key.PublicKey,
		signer:     signer,
		now:        time.Now,
	}, nil
}

// PublicKeyPEM returns the public key in PEM format
func (s *Signer) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(s.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}
	return string(pem.EncodeToMemory(pemBlock)), nil
}

// Sign returns the tagged COSE_Sign1 encoding of the receipt.
func (s *Signer) Sign(r core.Receipt) ([]byte, error) {
	_, signed, err := s.SignReceipt(r)
	return signed, err
}

// SignReceipt returns the exact payload that was signed along with its
// COSE_Sign1 encoding.
func (s *Signer) SignReceipt(r core.Receipt) (*Payload, []byte, error) {
	payload := PayloadFromReceipt(r)
	payload.SignedAt = s.now().Unix()

	body, err := cbor.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Protected[cose.HeaderLabelContentType] = contentType
	msg.Payload = body

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, nil, fmt.Errorf("sign receipt: %w", err)
	}
	signed, err := msg.MarshalCBOR()
	if err != nil {
		return nil, nil, fmt.Errorf("encode receipt: %w", err)
	}
	return &payload, signed, nil
}

// ParsePublicKeyPEM decodes a PKIX ECDSA public key.
func ParsePublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PUBLIC KEY block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return ecdsaKey, nil
}

// Verify checks the signature and returns the decoded payload.
func Verify(coseBytes []byte, pub *ecdsa.PublicKey) (*Payload, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}

	return decodePayload(msg.Payload)
}

// ExtractPayload decodes the payload without checking the signature.
func ExtractPayload(coseBytes []byte) (*Payload, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	return decodePayload(msg.Payload)
}

func decodePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := cbor.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &p, nil
}
