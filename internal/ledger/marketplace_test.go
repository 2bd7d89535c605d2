package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
)

func TestPlatformFee(t *testing.T) {
	require.Equal(t, uint64(10_000), PlatformFee(1_000_000))
	require.Equal(t, uint64(0), PlatformFee(99))
	require.Equal(t, uint64(1), PlatformFee(100))
	require.Equal(t, uint64(math.MaxUint64/100), PlatformFee(math.MaxUint64))
}

func TestListDirect(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)

	_, err := f.engine.ListDirect(f.ctx, stranger, 1, 1_000_000)
	require.ErrorIs(t, err, domain.ErrNotOwner)
	require.Equal(t, domain.CodeUnauthorized, domain.Code(err))

	_, err = f.engine.ListDirect(f.ctx, seller, 1, 0)
	require.Equal(t, domain.CodeInvalidPrice, domain.Code(err))

	_, err = f.engine.ListDirect(f.ctx, seller, 99, 10)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	id, err := f.engine.ListDirect(f.ctx, seller, 1, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Equal(t, uint64(1), f.engine.GetListingCount(f.ctx))

	l, ok := f.engine.GetListing(f.ctx, id)
	require.True(t, ok)
	require.Equal(t, seller, l.Seller)
	require.Equal(t, domain.ListingDirect, l.Kind)
	require.Nil(t, l.EndTime)
	require.True(t, l.Active)
	require.Equal(t, uint64(100), l.CreatedAt)

	_, err = f.engine.ListDirect(f.ctx, seller, 1, 5)
	require.Equal(t, domain.CodeInvalidListing, domain.Code(err))

	_, ok = f.engine.GetListing(f.ctx, 2)
	require.False(t, ok)
}

func TestBuyDirectListing(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 1_500_000)

	id, err := f.engine.ListDirect(f.ctx, seller, 1, 1_000_000)
	require.NoError(t, err)

	require.Equal(t, domain.CodeSelfBid, domain.Code(f.engine.Buy(f.ctx, seller, id)))
	require.ErrorIs(t, f.engine.Buy(f.ctx, stranger, id), domain.ErrInvalidAmount)
	require.ErrorIs(t, f.engine.Buy(f.ctx, bidder1, 42), domain.ErrNotFound)

	require.NoError(t, f.engine.Buy(f.ctx, bidder1, id))

	require.Equal(t, bidder1, f.tokenOwner(t, 1))
	require.Equal(t, uint64(10_000), f.engine.GetPlatformRevenue(f.ctx))
	require.Equal(t, uint64(990_000), f.engine.GetAccount(f.ctx, seller).Available)
	require.Equal(t, uint64(500_000), f.engine.GetAccount(f.ctx, bidder1).Available)

	l, _ := f.engine.GetListing(f.ctx, id)
	require.False(t, l.Active)
	require.Equal(t, domain.OutcomeSold, l.Outcome)
	require.Equal(t, bidder1, *l.Buyer)
	require.Equal(t, uint64(1_000_000), l.SalePrice)

	require.ErrorIs(t, f.engine.Buy(f.ctx, bidder2, id), domain.ErrInvalidListing)
	f.conserved(t)

	// The buyer can relist the token once the sale closed.
	_, err = f.engine.ListDirect(f.ctx, bidder1, 1, 2_000_000)
	require.NoError(t, err)
}

func TestBuyRequiresSellerStillHoldsToken(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 100)

	id, err := f.engine.ListDirect(f.ctx, seller, 1, 100)
	require.NoError(t, err)
	require.NoError(t, f.reg.Transfer(f.ctx, 1, seller, stranger))

	require.ErrorIs(t, f.engine.Buy(f.ctx, bidder1, id), domain.ErrNotOwner)
	require.Equal(t, uint64(100), f.engine.GetAccount(f.ctx, bidder1).Available)
}

func TestBuyRejectsAuction(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 1_000_000)

	id, err := f.engine.ListAuction(f.ctx, seller, 1, 500_000, 144)
	require.NoError(t, err)
	require.ErrorIs(t, f.engine.Buy(f.ctx, bidder1, id), domain.ErrInvalidListing)
}

func TestListAuctionValidation(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)

	_, err := f.engine.ListAuction(f.ctx, stranger, 1, 500_000, 144)
	require.Equal(t, domain.CodeUnauthorized, domain.Code(err))

	_, err = f.engine.ListAuction(f.ctx, seller, 1, 0, 144)
	require.Equal(t, domain.CodeInvalidPrice, domain.Code(err))

	_, err = f.engine.ListAuction(f.ctx, seller, 1, 500_000, 143)
	require.Equal(t, domain.CodeInvalidListing, domain.Code(err))

	f.clock.Set(math.MaxUint64 - 10)
	_, err = f.engine.ListAuction(f.ctx, seller, 1, 500_000, 144)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	require.Zero(t, f.engine.GetListingCount(f.ctx))
}

func TestAuctionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 1_000_000)
	f.fund(t, bidder2, 1_000_000)

	id, err := f.engine.ListAuction(f.ctx, seller, 1, 500_000, 144)
	require.NoError(t, err)
	l, _ := f.engine.GetListing(f.ctx, id)
	require.Equal(t, uint64(244), *l.EndTime)

	require.Equal(t, domain.CodeBidTooLow, domain.Code(f.engine.PlaceBid(f.ctx, bidder1, id, 400_000)))
	require.Equal(t, domain.CodeBidTooLow, domain.Code(f.engine.PlaceBid(f.ctx, bidder1, id, 500_000)))
	require.Equal(t, domain.CodeSelfBid, domain.Code(f.engine.PlaceBid(f.ctx, seller, id, 600_000)))

	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, id, 600_000))
	b, ok := f.engine.GetHighestBid(f.ctx, id)
	require.True(t, ok)
	require.Equal(t, bidder1, b.Bidder)
	require.Equal(t, uint64(600_000), b.Amount)
	require.Equal(t, domain.Account{Principal: bidder1, Available: 400_000, Escrowed: 600_000}, f.engine.GetAccount(f.ctx, bidder1))

	require.Equal(t, domain.CodeBidTooLow, domain.Code(f.engine.PlaceBid(f.ctx, bidder2, id, 600_000)))
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder2, id, 700_000))

	// The outbid bidder is refunded in full.
	require.Equal(t, domain.Account{Principal: bidder1, Available: 1_000_000}, f.engine.GetAccount(f.ctx, bidder1))
	require.Equal(t, uint64(700_000), f.engine.GetAccount(f.ctx, bidder2).Escrowed)
	f.conserved(t)

	ended, err := f.engine.IsAuctionEnded(f.ctx, id)
	require.NoError(t, err)
	require.False(t, ended)
	require.Equal(t, domain.CodeAuctionActive, domain.Code(f.engine.FinalizeAuction(f.ctx, stranger, id)))

	f.clock.Advance(144)
	ended, err = f.engine.IsAuctionEnded(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ended)
	require.Equal(t, domain.CodeInvalidListing, domain.Code(f.engine.PlaceBid(f.ctx, bidder1, id, 900_000)))

	require.NoError(t, f.engine.FinalizeAuction(f.ctx, stranger, id))
	require.Equal(t, bidder2, f.tokenOwner(t, 1))
	require.Equal(t, uint64(693_000), f.engine.GetAccount(f.ctx, seller).Available)
	require.Equal(t, domain.Account{Principal: bidder2, Available: 300_000}, f.engine.GetAccount(f.ctx, bidder2))
	require.Equal(t, uint64(7_000), f.engine.GetPlatformRevenue(f.ctx))

	l, _ = f.engine.GetListing(f.ctx, id)
	require.False(t, l.Active)
	require.Equal(t, domain.OutcomeSold, l.Outcome)
	_, ok = f.engine.GetHighestBid(f.ctx, id)
	require.False(t, ok)

	require.ErrorIs(t, f.engine.FinalizeAuction(f.ctx, stranger, id), domain.ErrInvalidListing)
	f.conserved(t)
}

func TestBidderCanRaiseOwnBid(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 1_000_000)

	id, err := f.engine.ListAuction(f.ctx, seller, 1, 100, 144)
	require.NoError(t, err)
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, id, 600_000))
	// Raising to the full balance works because the old bid is released first.
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, id, 1_000_000))
	require.Equal(t, domain.Account{Principal: bidder1, Escrowed: 1_000_000}, f.engine.GetAccount(f.ctx, bidder1))

	require.ErrorIs(t, f.engine.PlaceBid(f.ctx, bidder2, id, 1_000_001), domain.ErrInvalidAmount)
	f.conserved(t)
}

func TestFinalizeWithoutBidsExpires(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)

	id, err := f.engine.ListAuction(f.ctx, seller, 1, 500_000, 144)
	require.NoError(t, err)
	f.clock.Advance(200)

	require.NoError(t, f.engine.FinalizeAuction(f.ctx, stranger, id))
	l, _ := f.engine.GetListing(f.ctx, id)
	require.False(t, l.Active)
	require.Equal(t, domain.OutcomeExpired, l.Outcome)
	require.Equal(t, seller, f.tokenOwner(t, 1))
	require.Zero(t, f.engine.GetPlatformRevenue(f.ctx))
}

func TestFinalizeVoidsWhenSellerLostToken(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 800_000)

	id, err := f.engine.ListAuction(f.ctx, seller, 1, 500_000, 144)
	require.NoError(t, err)
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, id, 600_000))
	require.NoError(t, f.reg.Transfer(f.ctx, 1, seller, stranger))
	f.clock.Advance(144)

	require.NoError(t, f.engine.FinalizeAuction(f.ctx, bidder1, id))
	l, _ := f.engine.GetListing(f.ctx, id)
	require.Equal(t, domain.OutcomeVoided, l.Outcome)
	require.Equal(t, domain.Account{Principal: bidder1, Available: 800_000}, f.engine.GetAccount(f.ctx, bidder1))
	require.Equal(t, stranger, f.tokenOwner(t, 1))
	f.conserved(t)
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.mint(t, 2, seller)
	f.fund(t, bidder1, 1_000_000)

	direct, err := f.engine.ListDirect(f.ctx, seller, 1, 1_000)
	require.NoError(t, err)
	require.Equal(t, domain.CodeNotSeller, domain.Code(f.engine.CancelListing(f.ctx, stranger, direct)))
	require.NoError(t, f.engine.CancelListing(f.ctx, seller, direct))
	require.Equal(t, domain.CodeInvalidListing, domain.Code(f.engine.CancelListing(f.ctx, seller, direct)))

	l, _ := f.engine.GetListing(f.ctx, direct)
	require.Equal(t, domain.OutcomeCancelled, l.Outcome)

	auction, err := f.engine.ListAuction(f.ctx, seller, 2, 10, 144)
	require.NoError(t, err)
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, auction, 250_000))
	require.NoError(t, f.engine.CancelListing(f.ctx, seller, auction))

	require.Equal(t, domain.Account{Principal: bidder1, Available: 1_000_000}, f.engine.GetAccount(f.ctx, bidder1))
	_, ok := f.engine.GetHighestBid(f.ctx, auction)
	require.False(t, ok)
	require.ErrorIs(t, f.engine.CancelListing(f.ctx, seller, 77), domain.ErrNotFound)
	f.conserved(t)

	// Cancelled tokens may be listed again.
	_, err = f.engine.ListDirect(f.ctx, seller, 1, 5)
	require.NoError(t, err)
}

func TestActiveAndEndedListings(t *testing.T) {
	f := newFixture(t)
	for id := uint64(1); id <= 4; id++ {
		f.mint(t, id, seller)
	}
	_, err := f.engine.ListDirect(f.ctx, seller, 1, 10)
	require.NoError(t, err)
	a1, err := f.engine.ListAuction(f.ctx, seller, 2, 10, 144)
	require.NoError(t, err)
	_, err = f.engine.ListAuction(f.ctx, seller, 3, 10, 500)
	require.NoError(t, err)
	d2, err := f.engine.ListDirect(f.ctx, seller, 4, 10)
	require.NoError(t, err)
	require.NoError(t, f.engine.CancelListing(f.ctx, seller, d2))

	require.Len(t, f.engine.ActiveListings(f.ctx, "", domain.ListOpts{}), 3)
	require.Len(t, f.engine.ActiveListings(f.ctx, domain.ListingAuction, domain.ListOpts{}), 2)
	page := f.engine.ActiveListings(f.ctx, "", domain.ListOpts{Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	require.Equal(t, a1, page[0].ID)

	ended := f.engine.EndedAuctions(f.ctx, 300)
	require.Len(t, ended, 1)
	require.Equal(t, a1, ended[0].ID)
}

func TestRevenueWithdrawal(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.fund(t, bidder1, 1_000_000)
	id, err := f.engine.ListDirect(f.ctx, seller, 1, 1_000_000)
	require.NoError(t, err)
	require.NoError(t, f.engine.Buy(f.ctx, bidder1, id))

	require.ErrorIs(t, f.engine.WithdrawPlatformRevenue(f.ctx, stranger, 1), domain.ErrUnauthorized)
	require.ErrorIs(t, f.engine.WithdrawPlatformRevenue(f.ctx, owner, 10_001), domain.ErrInvalidAmount)
	require.ErrorIs(t, f.engine.WithdrawPlatformRevenue(f.ctx, owner, 0), domain.ErrInvalidAmount)

	require.NoError(t, f.engine.WithdrawPlatformRevenue(f.ctx, owner, 4_000))
	require.Equal(t, domain.RevenueAccount{Accumulated: 6_000, TotalCollected: 10_000, TotalWithdrawn: 4_000}, f.engine.GetRevenue(f.ctx))
	require.Equal(t, uint64(4_000), f.engine.GetAccount(f.ctx, owner).Available)
	f.conserved(t)

	require.NoError(t, f.engine.WithdrawBalance(f.ctx, owner, 4_000))
	require.ErrorIs(t, f.engine.WithdrawBalance(f.ctx, owner, 1), domain.ErrInvalidAmount)
	require.Equal(t, domain.Supply{Deposited: 1_000_000, Withdrawn: 4_000}, f.engine.GetSupply(f.ctx))
	f.conserved(t)
}

func TestCreditAccountValidation(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.engine.CreditAccount(f.ctx, stranger, stranger, 10), domain.ErrUnauthorized)
	require.ErrorIs(t, f.engine.CreditAccount(f.ctx, owner, stranger, 0), domain.ErrInvalidAmount)

	require.NoError(t, f.engine.CreditAccount(f.ctx, owner, stranger, math.MaxUint64))
	require.ErrorIs(t, f.engine.CreditAccount(f.ctx, owner, bidder1, 1), domain.ErrInvalidAmount)
	require.Zero(t, f.engine.GetAccount(f.ctx, bidder1).Available)
	f.conserved(t)
}
