package ledger

import (
	"fmt"
	"math/bits"

	"github.com/alanyoungcy/recledger/internal/domain"
)

const (
	// PlatformFeeBps is the platform fee in basis points (1%).
	PlatformFeeBps uint64 = 100
	// BpsDenominator is the basis-point scale.
	BpsDenominator uint64 = 10_000
)

// PlatformFee returns floor(price * PlatformFeeBps / BpsDenominator). The
// product is computed in 128 bits so it cannot overflow.
func PlatformFee(price uint64) uint64 {
	hi, lo := bits.Mul64(price, PlatformFeeBps)
	quo, _ := bits.Div64(hi, lo, BpsDenominator)
	return quo
}

func addU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%d + %d overflows: %w", a, b, domain.ErrInvalidAmount)
	}
	return sum, nil
}

func subU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%d - %d underflows: %w", a, b, domain.ErrInvalidAmount)
	}
	return diff, nil
}
