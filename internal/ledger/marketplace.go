package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// ListDirect lists tokenID at a fixed price. The caller must own the token.
func (e *Engine) ListDirect(ctx context.Context, caller domain.Principal, tokenID, price uint64) (uint64, error) {
	var id uint64
	err := e.apply(ctx, "list-direct", caller, func(tx *Tx) error {
		if err := tx.requireTokenOwner(tokenID); err != nil {
			return err
		}
		if price == 0 {
			return fmt.Errorf("price must be positive: %w", domain.ErrInvalidPrice)
		}
		l, err := tx.openListing(tokenID, price, domain.ListingDirect, nil)
		if err != nil {
			return err
		}
		id = l.ID
		return nil
	})
	return id, err
}

// ListAuction opens an auction on tokenID with a starting price. The auction
// ends duration heights after the current height.
func (e *Engine) ListAuction(ctx context.Context, caller domain.Principal, tokenID, startingPrice, duration uint64) (uint64, error) {
	var id uint64
	err := e.apply(ctx, "list-auction", caller, func(tx *Tx) error {
		if err := tx.requireTokenOwner(tokenID); err != nil {
			return err
		}
		if startingPrice == 0 {
			return fmt.Errorf("starting price must be positive: %w", domain.ErrInvalidPrice)
		}
		if duration < e.minDuration {
			return fmt.Errorf("duration %d below minimum %d: %w", duration, e.minDuration, domain.ErrInvalidListing)
		}
		end, err := addU64(tx.height, duration)
		if err != nil {
			return fmt.Errorf("auction end: %w", err)
		}
		l, err := tx.openListing(tokenID, startingPrice, domain.ListingAuction, &end)
		if err != nil {
			return err
		}
		id = l.ID
		return nil
	})
	return id, err
}

// CancelListing withdraws an active listing. Only the seller may cancel; a
// standing auction bid is refunded in the same transaction.
func (e *Engine) CancelListing(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return e.apply(ctx, "cancel-listing", caller, func(tx *Tx) error {
		l, err := tx.listing(listingID)
		if err != nil {
			return err
		}
		if l.Seller != caller {
			return fmt.Errorf("listing %d: %w", listingID, domain.ErrNotSeller)
		}
		if !l.Active {
			return fmt.Errorf("listing %d is not active: %w", listingID, domain.ErrInvalidListing)
		}
		if b, ok := tx.bids.get(listingID); ok {
			if err := tx.refundBid(b); err != nil {
				return err
			}
		}
		tx.closeListing(l, domain.OutcomeCancelled)
		tx.note("listing_id", listingID)
		tx.emit(domain.EventListingCancelled, map[string]string{
			"listing_id": u64(listingID),
			"token_id":   u64(l.TokenID),
		})
		return nil
	})
}

// Buy purchases an active direct listing at its price. The buyer pays from
// available funds; the seller receives the price minus the platform fee.
func (e *Engine) Buy(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return e.apply(ctx, "buy", caller, func(tx *Tx) error {
		l, err := tx.listing(listingID)
		if err != nil {
			return err
		}
		if !l.Active || l.Kind != domain.ListingDirect {
			return fmt.Errorf("listing %d is not an active direct listing: %w", listingID, domain.ErrInvalidListing)
		}
		if l.Seller == caller {
			return fmt.Errorf("listing %d: %w", listingID, domain.ErrSelfBid)
		}
		if err := tx.requireSellerHolds(l); err != nil {
			return err
		}
		if err := tx.debit(caller, l.Price); err != nil {
			return err
		}
		fee, err := tx.settleSale(l.Seller, l.Price)
		if err != nil {
			return err
		}
		tx.transfer(l.TokenID, l.Seller, caller)
		tx.markSold(l, caller, l.Price)

		tx.note("listing_id", listingID)
		tx.note("price", l.Price)
		tx.note("fee", fee)
		tx.emit(domain.EventListingSold, map[string]string{
			"listing_id": u64(listingID),
			"token_id":   u64(l.TokenID),
			"seller":     l.Seller.Hex(),
			"buyer":      caller.Hex(),
			"price":      u64(l.Price),
			"fee":        u64(fee),
		})
		return nil
	})
}

// PlaceBid bids amount on an open auction. The amount is escrowed from the
// bidder's available funds and the previous high bidder is refunded.
func (e *Engine) PlaceBid(ctx context.Context, caller domain.Principal, listingID, amount uint64) error {
	return e.apply(ctx, "place-bid", caller, func(tx *Tx) error {
		l, err := tx.listing(listingID)
		if err != nil {
			return err
		}
		if !l.Active || !l.IsAuction() {
			return fmt.Errorf("listing %d is not an open auction: %w", listingID, domain.ErrInvalidListing)
		}
		if l.Ended(tx.height) {
			return fmt.Errorf("auction %d ended at %d: %w", listingID, *l.EndTime, domain.ErrInvalidListing)
		}
		if l.Seller == caller {
			return fmt.Errorf("listing %d: %w", listingID, domain.ErrSelfBid)
		}
		if amount <= l.Price {
			return fmt.Errorf("bid %d must exceed starting price %d: %w", amount, l.Price, domain.ErrBidTooLow)
		}
		prev, hasPrev := tx.bids.get(listingID)
		if hasPrev {
			if amount <= prev.Amount {
				return fmt.Errorf("bid %d must exceed current bid %d: %w", amount, prev.Amount, domain.ErrBidTooLow)
			}
			if err := tx.refundBid(prev); err != nil {
				return err
			}
		}
		if err := tx.escrow(caller, amount); err != nil {
			return err
		}
		tx.bids.put(listingID, domain.Bid{
			ListingID: listingID,
			Bidder:    caller,
			Amount:    amount,
			PlacedAt:  tx.height,
		})

		tx.note("listing_id", listingID)
		tx.note("amount", amount)
		tx.emit(domain.EventBidPlaced, map[string]string{
			"listing_id": u64(listingID),
			"bidder":     caller.Hex(),
			"amount":     u64(amount),
		})
		return nil
	})
}

// FinalizeAuction settles an ended auction. Anyone may call it. The highest
// bidder receives the token; with no bids the listing simply expires. If the
// seller no longer holds the token the bid is refunded and the listing voided.
func (e *Engine) FinalizeAuction(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return e.apply(ctx, "finalize-auction", caller, func(tx *Tx) error {
		l, err := tx.listing(listingID)
		if err != nil {
			return err
		}
		if !l.Active || !l.IsAuction() {
			return fmt.Errorf("listing %d is not an open auction: %w", listingID, domain.ErrInvalidListing)
		}
		if !l.Ended(tx.height) {
			return fmt.Errorf("auction %d ends at %d: %w", listingID, *l.EndTime, domain.ErrAuctionActive)
		}
		tx.note("listing_id", listingID)

		bid, ok := tx.bids.get(listingID)
		if !ok {
			tx.closeListing(l, domain.OutcomeExpired)
			tx.emitClosed(l, domain.OutcomeExpired, nil)
			return nil
		}

		owner, exists, err := tx.ownerOf(l.TokenID)
		if err != nil {
			return err
		}
		if !exists || owner != l.Seller {
			if err := tx.refundBid(bid); err != nil {
				return err
			}
			tx.closeListing(l, domain.OutcomeVoided)
			tx.emitClosed(l, domain.OutcomeVoided, nil)
			return nil
		}

		if err := tx.spendEscrow(bid.Bidder, bid.Amount); err != nil {
			return err
		}
		fee, err := tx.settleSale(l.Seller, bid.Amount)
		if err != nil {
			return err
		}
		tx.bids.del(listingID)
		tx.transfer(l.TokenID, l.Seller, bid.Bidder)
		tx.markSold(l, bid.Bidder, bid.Amount)

		tx.note("price", bid.Amount)
		tx.note("fee", fee)
		tx.emitClosed(l, domain.OutcomeSold, map[string]string{
			"buyer": bid.Bidder.Hex(),
			"price": u64(bid.Amount),
			"fee":   u64(fee),
		})
		return nil
	})
}

// GetListing returns a listing by id.
func (e *Engine) GetListing(ctx context.Context, listingID uint64) (domain.Listing, bool) {
	var (
		l  domain.Listing
		ok bool
	)
	e.read(ctx, func(st *state) { l, ok = st.listings[listingID] })
	return l, ok
}

// GetListingCount returns the last issued listing id.
func (e *Engine) GetListingCount(ctx context.Context) uint64 {
	var n uint64
	e.read(ctx, func(st *state) { n = st.counters.LastListingID })
	return n
}

// GetHighestBid returns the standing bid on an auction listing.
func (e *Engine) GetHighestBid(ctx context.Context, listingID uint64) (domain.Bid, bool) {
	var (
		b  domain.Bid
		ok bool
	)
	e.read(ctx, func(st *state) { b, ok = st.bids[listingID] })
	return b, ok
}

// IsAuctionEnded reports whether listingID has reached its end height. Direct
// listings never end.
func (e *Engine) IsAuctionEnded(ctx context.Context, listingID uint64) (bool, error) {
	l, ok := e.GetListing(ctx, listingID)
	if !ok {
		return false, fmt.Errorf("ledger: listing %d: %w", listingID, domain.ErrNotFound)
	}
	h, err := e.Height(ctx)
	if err != nil {
		return false, err
	}
	return l.Ended(h), nil
}

// ActiveListings returns active listings ordered by id, filtered by kind when
// kind is non-empty.
func (e *Engine) ActiveListings(ctx context.Context, kind domain.ListingKind, opts domain.ListOpts) []domain.Listing {
	var out []domain.Listing
	e.read(ctx, func(st *state) {
		for id := uint64(1); id <= st.counters.LastListingID; id++ {
			l, ok := st.listings[id]
			if !ok || !l.Active || (kind != "" && l.Kind != kind) {
				continue
			}
			out = append(out, l)
		}
	})
	return paginate(out, opts)
}

// EndedAuctions returns active auctions whose end height is at or below h.
func (e *Engine) EndedAuctions(ctx context.Context, h uint64) []domain.Listing {
	var out []domain.Listing
	e.read(ctx, func(st *state) {
		for _, id := range st.activeByToken {
			l := st.listings[id]
			if l.IsAuction() && l.Ended(h) {
				out = append(out, l)
			}
		}
	})
	sortListings(out)
	return out
}

func (tx *Tx) listing(id uint64) (domain.Listing, error) {
	l, ok := tx.listings.get(id)
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

// requireTokenOwner checks the registry reports the caller as owner.
func (tx *Tx) requireTokenOwner(tokenID uint64) error {
	owner, ok, err := tx.ownerOf(tokenID)
	if err != nil {
		return err
	}
	if !ok || owner != tx.caller {
		return fmt.Errorf("token %d: %w", tokenID, domain.ErrNotOwner)
	}
	return nil
}

func (tx *Tx) requireSellerHolds(l domain.Listing) error {
	owner, ok, err := tx.ownerOf(l.TokenID)
	if err != nil {
		return err
	}
	if !ok || owner != l.Seller {
		return fmt.Errorf("seller no longer holds token %d: %w", l.TokenID, domain.ErrNotOwner)
	}
	return nil
}

func (tx *Tx) openListing(tokenID, price uint64, kind domain.ListingKind, end *uint64) (domain.Listing, error) {
	if existing, ok := tx.activeByToken.get(tokenID); ok {
		return domain.Listing{}, fmt.Errorf("token %d already listed as %d: %w", tokenID, existing, domain.ErrInvalidListing)
	}
	l := domain.Listing{
		ID:        tx.nextListingID(),
		Seller:    tx.caller,
		TokenID:   tokenID,
		Price:     price,
		Kind:      kind,
		EndTime:   end,
		Active:    true,
		CreatedAt: tx.height,
	}
	tx.listings.put(l.ID, l)
	tx.activeByToken.put(tokenID, l.ID)

	tx.note("listing_id", l.ID)
	tx.note("token_id", tokenID)
	tx.note("price", price)
	attrs := map[string]string{
		"listing_id":   u64(l.ID),
		"token_id":     u64(tokenID),
		"price":        u64(price),
		"listing_type": string(kind),
	}
	if end != nil {
		attrs["end_time"] = u64(*end)
	}
	tx.emit(domain.EventListingCreated, attrs)
	return l, nil
}

func (tx *Tx) markSold(l domain.Listing, buyer domain.Principal, price uint64) {
	l.Buyer = &buyer
	l.SalePrice = price
	tx.closeListing(l, domain.OutcomeSold)
}

func (tx *Tx) emitClosed(l domain.Listing, outcome domain.ListingOutcome, extra map[string]string) {
	attrs := map[string]string{
		"listing_id": u64(l.ID),
		"token_id":   u64(l.TokenID),
		"outcome":    string(outcome),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	tx.note("outcome", string(outcome))
	tx.emit(domain.EventAuctionClosed, attrs)
}
