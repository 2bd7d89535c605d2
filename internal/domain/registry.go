package domain

import "context"

// TokenRegistry is the external non-fungible token registry that owns token
// existence and ownership. The ledger never mutates ownership except through
// Transfer.
type TokenRegistry interface {
	// OwnerOf returns the current owner of tokenID; ok is false when the token
	// does not exist.
	OwnerOf(ctx context.Context, tokenID uint64) (owner Principal, ok bool, err error)
	// Transfer moves tokenID and returns once the move is final. An error
	// wrapping ErrTransferPending means the move may still happen.
	Transfer(ctx context.Context, tokenID uint64, from, to Principal) error
}

// HeightSource supplies the ledger height used as the logical clock.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}
