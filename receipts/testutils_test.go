package receipts

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
)

// MockAttester implements the Attest method for testing
type MockAttester struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
	calls      int
}

func (m *MockAttester) Attest(options enclave.AttestationOptions) ([]byte, error) {
	m.calls++
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("invalid hex string: %s", hexStr)
	}
	return b
}

const testPCR0 = "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"

// newMockAttester returns an attester producing the 4-element array layout of
// a Nitro attestation with the caller's user data embedded.
func newMockAttester(t *testing.T) *MockAttester {
	t.Helper()
	return &MockAttester{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			doc := map[string]any{
				"module_id": "test-enclave-12345",
				"digest":    "SHA384",
				"timestamp": uint64(1234567890),
				"pcrs": map[uint64][]byte{
					0: mustDecodeHex(t, testPCR0),
				},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			docBytes, err := cbor.Marshal(doc)
			if err != nil {
				return nil, err
			}
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				docBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

func testReceipt() core.Receipt {
	token := common.HexToAddress("0x0000000000000000000000000000000000000020")
	r := core.Receipt{
		ID:        "receipt-1",
		AuctionID: "6f1c2a8e-0000-4000-8000-000000000001",
		Variant:   core.VariantNFTToken,
		Bidder:    common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Creator:   common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		Amount:    uint256.NewInt(500),
		Price:     uint256.NewInt(450),
		Asset: &core.AssetRef{
			Contract: common.HexToAddress("0x0000000000000000000000000000000000000721"),
			TokenID:  uint256.NewInt(1),
		},
		PaymentToken: &token,
		Time:         1_700_000_005,
		ConfigHash:   strings.Repeat("ab", 32),
	}
	r.Hash = core.ComputeReceiptHash(r)
	return r
}
