package permit

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cloudx-io/dutchauction/core"
)

// Verifier checks permits for one domain and consumes each owner's nonces in
// order, so a signature is usable exactly once.
type Verifier struct {
	domain Domain

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewVerifier(d Domain) *Verifier {
	return &Verifier{
		domain: d,
		nonces: make(map[common.Address]uint64),
	}
}

func (v *Verifier) Domain() Domain {
	return v.domain
}

// Nonce returns the nonce the owner's next permit must carry.
func (v *Verifier) Nonce(owner common.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nonces[owner]
}

// Verify accepts the permit and consumes its nonce, or returns an error and
// leaves the nonce untouched. Checks run in order: deadline, signer, nonce.
// A deadline equal to now is still valid.
func (v *Verifier) Verify(sp Signed, now uint64) error {
	if now > sp.Deadline {
		return fmt.Errorf("%w: deadline %d, now %d", core.ErrPermitExpired, sp.Deadline, now)
	}

	signer, err := Recover(v.domain, sp)
	if err != nil {
		return err
	}
	if signer != sp.Owner {
		return fmt.Errorf("%w: signed by %s, owner is %s", core.ErrPermitInvalidSignature, signer.Hex(), sp.Owner.Hex())
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	expected := v.nonces[sp.Owner]
	switch {
	case sp.Nonce < expected:
		return fmt.Errorf("%w: nonce %d, next is %d", core.ErrPermitReplayed, sp.Nonce, expected)
	case sp.Nonce > expected:
		return fmt.Errorf("%w: nonce %d, next is %d", core.ErrPermitInvalidSignature, sp.Nonce, expected)
	}
	v.nonces[sp.Owner] = expected + 1
	return nil
}
