package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")

	// Authorization failures.
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotOwner        = errors.New("caller is not the token owner")
	ErrNotSeller       = errors.New("caller is not the seller")
	ErrInvalidVerifier = errors.New("caller is not an authorized verifier")

	// Input and state validation failures.
	ErrInvalidPrice   = errors.New("invalid price")
	ErrInvalidListing = errors.New("invalid listing")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrBidTooLow      = errors.New("bid too low")
	ErrSelfBid        = errors.New("seller cannot bid on or buy own listing")
	ErrAuctionActive  = errors.New("auction still active")

	// Engine failures.
	ErrReentrant       = errors.New("reentrant ledger call")
	ErrTransferFailed  = errors.New("token transfer failed")
	// ErrTransferPending means a transfer was submitted but its outcome is
	// not known. The ledger stops accepting writes until it is resolved.
	ErrTransferPending = errors.New("token transfer outcome unknown")
)

// Marketplace result codes. They match the numeric error codes returned by the
// on-chain contract so existing clients can keep switching on them.
const (
	CodeUnauthorized   uint32 = 200
	CodeInvalidListing uint32 = 201
	CodeNotFound       uint32 = 202
	CodeTransferFailed uint32 = 203
	CodeBidTooLow      uint32 = 205
	CodeAuctionActive  uint32 = 206
	CodeNotSeller      uint32 = 207
	CodeInvalidPrice   uint32 = 208
	CodeSelfBid        uint32 = 209
	CodeInvalidAmount  uint32 = 210

	CodeVerifierUnauthorized uint32 = 300
	CodeVerificationNotFound uint32 = 301
	CodeInvalidVerifier      uint32 = 302
	CodeAlreadyExists        uint32 = 303
	CodeInvalidStatus        uint32 = 304

	CodeInternal uint32 = 500
)

var marketCodes = []struct {
	err  error
	code uint32
}{
	{ErrNotOwner, CodeUnauthorized},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNotSeller, CodeNotSeller},
	{ErrInvalidPrice, CodeInvalidPrice},
	{ErrInvalidListing, CodeInvalidListing},
	{ErrBidTooLow, CodeBidTooLow},
	{ErrSelfBid, CodeSelfBid},
	{ErrAuctionActive, CodeAuctionActive},
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrTransferFailed, CodeTransferFailed},
	{ErrNotFound, CodeNotFound},
}

var verificationCodes = []struct {
	err  error
	code uint32
}{
	{ErrUnauthorized, CodeVerifierUnauthorized},
	{ErrInvalidVerifier, CodeInvalidVerifier},
	{ErrInvalidStatus, CodeInvalidStatus},
	{ErrInvalidAmount, CodeInvalidStatus},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrNotFound, CodeVerificationNotFound},
}

// Code maps a marketplace error to its numeric result code. Unknown errors map
// to CodeInternal.
func Code(err error) uint32 {
	for _, c := range marketCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// VerificationCode maps a verification-subsystem error to its numeric code.
func VerificationCode(err error) uint32 {
	for _, c := range verificationCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
