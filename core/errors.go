package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Configuration errors: construction or initialization is rejected.
var (
	ErrInvalidConfig = errors.New("invalid auction config")
	ErrNotOwner      = errors.New("asset does not belong to the auction creator")
)

// Admission errors: a bid is rejected before any asset or payment moves.
var (
	ErrInvalidBid   = errors.New("invalid bid")
	ErrPriceNotMet  = errors.New("bid amount is below the current price")
	ErrExpired      = errors.New("auction ended")
	ErrAlreadyEnded = errors.New("auction has already ended")
)

// Settlement errors: a leg of the exchange failed and the bid was rolled back.
var (
	ErrPaymentFailed         = errors.New("payment transfer failed")
	ErrAssetTransferFailed   = errors.New("asset transfer failed")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
)

// Upgrade errors.
var (
	ErrAlreadyInitialized   = errors.New("auction is already initialized")
	ErrNotInitialized       = errors.New("auction is not initialized")
	ErrUnauthorizedUpgrade  = errors.New("caller is not authorized to upgrade")
	ErrVersionNotIncreasing = errors.New("upgrade version must be greater than the current version")
	ErrUnsupported          = errors.New("operation not supported by the active logic version")
)

// Permit errors.
var (
	ErrPermitExpired          = errors.New("permit deadline has passed")
	ErrPermitInvalidSignature = errors.New("invalid permit signature")
	ErrPermitReplayed         = errors.New("permit nonce already used")
)

// ErrorClass groups errors by the stage that produced them.
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassConfiguration ErrorClass = "configuration"
	ClassAdmission     ErrorClass = "admission"
	ClassSettlement    ErrorClass = "settlement"
	ClassUpgrade       ErrorClass = "upgrade"
	ClassPermit        ErrorClass = "permit"
	ClassInternal      ErrorClass = "internal"
)

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassConfiguration, []error{ErrInvalidConfig, ErrNotOwner}},
	{ClassAdmission, []error{ErrInvalidBid, ErrPriceNotMet, ErrExpired, ErrAlreadyEnded}},
	{ClassSettlement, []error{ErrPaymentFailed, ErrAssetTransferFailed, ErrInsufficientAllowance, ErrInsufficientBalance}},
	{ClassUpgrade, []error{ErrAlreadyInitialized, ErrNotInitialized, ErrUnauthorizedUpgrade, ErrVersionNotIncreasing, ErrUnsupported}},
	{ClassPermit, []error{ErrPermitExpired, ErrPermitInvalidSignature, ErrPermitReplayed}},
}

// Classify maps an error chain onto its ErrorClass. Errors that match no known
// sentinel are ClassInternal; nil is ClassNone.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassInternal
}

// TokenShortfallError reports which precondition of a token payment failed.
// It unwraps to ErrInsufficientAllowance or ErrInsufficientBalance.
type TokenShortfallError struct {
	Token     common.Address
	Symbol    string
	Kind      error
	Required  *uint256.Int
	Available *uint256.Int
}

func (e *TokenShortfallError) Error() string {
	return fmt.Sprintf("bid amount was accepted, but %s of token %s (%s) is %s, need %s: %v",
		shortfallSubject(e.Kind), e.Symbol, e.Token.Hex(), amountString(e.Available), amountString(e.Required), e.Kind)
}

func (e *TokenShortfallError) Unwrap() error {
	return e.Kind
}

func shortfallSubject(kind error) string {
	if errors.Is(kind, ErrInsufficientAllowance) {
		return "allowance"
	}
	return "balance"
}
