// Package permit verifies signed allowance grants (EIP-2612 permits).
//
// A permit lets a token holder authorize a spender off-ledger: the holder
// signs the typed data below and anyone may submit it. The digest layout
// follows EIP-712 so signatures produced by standard wallets verify here.
package permit

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/dutchauction/core"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	permitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
)

// Domain scopes signatures to one token on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// Separator is the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		word(uint256.NewInt(d.ChainID)),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
	)
}

// Permit grants Spender an allowance of Value over Owner's tokens.
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *uint256.Int
	Nonce    uint64
	Deadline uint64
}

// StructHash is the EIP-712 hashStruct of the permit.
func (p Permit) StructHash() common.Hash {
	value := p.Value
	if value == nil {
		value = new(uint256.Int)
	}
	return crypto.Keccak256Hash(
		permitTypeHash.Bytes(),
		common.LeftPadBytes(p.Owner.Bytes(), 32),
		common.LeftPadBytes(p.Spender.Bytes(), 32),
		word(value),
		word(uint256.NewInt(p.Nonce)),
		word(uint256.NewInt(p.Deadline)),
	)
}

// Message is any EIP-712 struct.
type Message interface {
	StructHash() common.Hash
}

// Digest is the hash the owner signs: keccak256("\x19\x01" || separator || structHash).
func Digest(d Domain, m Message) common.Hash {
	sep := d.Separator()
	structHash := m.StructHash()
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, sep.Bytes(), structHash.Bytes())
}

// Signed is a permit with its 65-byte [R || S || V] signature, V in {27, 28}.
type Signed struct {
	Permit
	Signature hexutil.Bytes
}

// Sign produces a permit signature with the owner's key.
func Sign(d Domain, p Permit, key *ecdsa.PrivateKey) (Signed, error) {
	sig, err := SignMessage(d, p, key)
	if err != nil {
		return Signed{}, fmt.Errorf("sign permit: %w", err)
	}
	return Signed{Permit: p, Signature: sig}, nil
}

// Recover returns the address that signed the permit.
func Recover(d Domain, sp Signed) (common.Address, error) {
	return RecoverMessage(d, sp.Permit, sp.Signature)
}

// SignMessage returns a 65-byte [R || S || V] signature over the typed
// digest of m, V in {27, 28}.
func SignMessage(d Domain, m Message, key *ecdsa.PrivateKey) (hexutil.Bytes, error) {
	digest := Digest(d, m)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverMessage returns the address that signed m. V may be 0/1 or 27/28.
func RecoverMessage(d Domain, m Message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			core.ErrPermitInvalidSignature, crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := Digest(d, m)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrPermitInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func word(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}
