package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Principal identifies a ledger participant by its Ethereum-style address.
type Principal = common.Address

// ParsePrincipal parses a 0x-prefixed hex address.
func ParsePrincipal(s string) (Principal, error) {
	if !common.IsHexAddress(s) {
		return Principal{}, fmt.Errorf("invalid principal %q", s)
	}
	return common.HexToAddress(s), nil
}
