package receipts

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
)

// ValidationResult reports each receipt check separately.
type ValidationResult struct {
	SignatureValid    bool
	HashValid         bool
	Payload           *Payload
	ValidationDetails []string

	configChecked   bool
	ConfigHashValid bool
}

// IsValid returns true if all receipt checks passed
func (r *ValidationResult) IsValid() bool {
	return r.SignatureValid && r.HashValid && (!r.configChecked || r.ConfigHashValid)
}

// ExpectConfig additionally requires the receipt to have settled under the
// auction terms fingerprinted by configHash (see the status config_hash).
func (r *ValidationResult) ExpectConfig(configHash string) {
	r.configChecked = true
	switch {
	case r.Payload == nil:
		r.ValidationDetails = append(r.ValidationDetails, "Config hash not checked: no payload")
	case strings.EqualFold(strings.TrimSpace(configHash), r.Payload.ConfigHash):
		r.ConfigHashValid = true
		r.ValidationDetails = append(r.ValidationDetails, "Config hash matches auction terms")
	default:
		r.ValidationDetails = append(r.ValidationDetails,
			fmt.Sprintf("Config hash mismatch: expected %s, got %s", configHash, r.Payload.ConfigHash))
	}
}

// KeyValidationResult reports whether an attestation vouches for a key.
// CertificateChainValid is reported but not required: attestations produced
// outside a Nitro enclave carry no chain.
type KeyValidationResult struct {
	PublicKeyMatch        bool
	CertificateChainValid bool
	ModuleID              string
	PCR0                  string
	ValidationDetails     []string
}

func (r *KeyValidationResult) IsValid() bool {
	return r.PublicKeyMatch
}

// ValidateReceipt verifies a base64 COSE receipt against a PEM public key and
// recomputes the receipt hash from the signed fields.
//
// Returns an error only when validation cannot be performed (malformed input).
func ValidateReceipt(receiptB64, publicKeyPEM string) (*ValidationResult, error) {
	coseBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(receiptB64))
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}
	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{}

	payload, err := Verify(coseBytes, pub)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Signature invalid: %v", err))
		payload, err = ExtractPayload(coseBytes)
		if err != nil {
			return nil, err
		}
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Signature valid")
	}
	result.Payload = payload

	expected, err := recomputeHash(payload)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Hash not recomputable: %v", err))
		return result, nil
	}
	if expected == payload.Hash {
		result.HashValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Receipt hash matches")
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Receipt hash mismatch: expected %s, got %s", expected, payload.Hash))
	}
	return result, nil
}

// ValidateKeyAttestation checks that a base64 attestation embeds expectedPEM.
func ValidateKeyAttestation(attestationB64, expectedPEM string) (*KeyValidationResult, error) {
	coseBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(attestationB64))
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}
	doc, userData, err := ParseAttestation(coseBytes)
	if err != nil {
		return nil, err
	}

	result := &KeyValidationResult{
		ModuleID: doc.ModuleID,
		PCR0:     FormatPCR(doc.PCRs[0]),
	}
	switch {
	case userData.PublicKey == "":
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
	case strings.TrimSpace(userData.PublicKey) == strings.TrimSpace(expectedPEM):
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	default:
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
	}

	if err := VerifyCertificateChain(doc); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain not verified: %v", err))
	} else {
		result.CertificateChainValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified to Nitro root")
	}
	return result, nil
}

func recomputeHash(p *Payload) (string, error) {
	amount, err := uint256.FromDecimal(p.Amount)
	if err != nil {
		return "", fmt.Errorf("amount: %w", err)
	}
	price, err := uint256.FromDecimal(p.Price)
	if err != nil {
		return "", fmt.Errorf("price: %w", err)
	}
	if !common.IsHexAddress(p.Bidder) || !common.IsHexAddress(p.Creator) {
		return "", fmt.Errorf("bidder or creator is not an address")
	}
	return core.ComputeReceiptHash(core.Receipt{
		ID:         p.ReceiptID,
		AuctionID:  p.AuctionID,
		Bidder:     common.HexToAddress(p.Bidder),
		Creator:    common.HexToAddress(p.Creator),
		Amount:     amount,
		Price:      price,
		Time:       p.TimeUnit,
		ConfigHash: p.ConfigHash,
	}), nil
}
