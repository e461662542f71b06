package receipts

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

// Attester interface for dependency injection and testing
type Attester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// NitroAttester returns the Nitro Security Module handle, or an error when
// not running inside an enclave.
func NitroAttester() (Attester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// KeyAttestationUserData is embedded in the attestation of a signing key.
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"`
	PublicKey    string `json:"public_key"`
}

// AttestationDocument is the raw CBOR structure from AWS Nitro Enclaves
type AttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// AttestKey binds the receipt signing key to the enclave measurement.
func AttestKey(attester Attester, s *Signer, log *logrus.Entry) ([]byte, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	publicKeyPEM, err := s.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}

	userDataBytes, err := json.Marshal(&KeyAttestationUserData{
		KeyAlgorithm: KeyAlgorithm,
		PublicKey:    publicKeyPEM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	if log != nil {
		log.WithField("bytes", len(attestationCBOR)).Info("key attestation generated")
	}
	return attestationCBOR, nil
}

// ParseAttestation decodes an untagged COSE_Sign1 attestation
// [protected, unprotected, payload, signature] and the key user data inside it.
// The signature and certificate chain are not checked here.
func ParseAttestation(coseBytes []byte) (*AttestationDocument, *KeyAttestationUserData, error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return nil, nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, nil, fmt.Errorf("invalid payload in COSE structure")
	}

	var doc AttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	var userData KeyAttestationUserData
	if len(doc.UserData) > 0 {
		if err := json.Unmarshal(doc.UserData, &userData); err != nil {
			return nil, nil, fmt.Errorf("parse user data: %w", err)
		}
	}
	return &doc, &userData, nil
}

// FormatPCR formats PCR bytes as hex string
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
