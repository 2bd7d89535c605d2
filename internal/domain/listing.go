package domain

// ListingKind distinguishes fixed-price listings from timed auctions.
type ListingKind string

const (
	ListingDirect  ListingKind = "direct"
	ListingAuction ListingKind = "auction"
)

// ListingOutcome records how an inactive listing was closed.
type ListingOutcome string

const (
	OutcomeOpen      ListingOutcome = ""
	OutcomeSold      ListingOutcome = "sold"
	OutcomeCancelled ListingOutcome = "cancelled"
	OutcomeExpired   ListingOutcome = "expired" // auction ended without bids
	OutcomeVoided    ListingOutcome = "voided"  // seller lost the token before settlement
)

// Listing is an offer to sell a single certificate token.
type Listing struct {
	ID        uint64      `json:"id"`
	Seller    Principal   `json:"seller"`
	TokenID   uint64      `json:"token_id"`
	Price     uint64      `json:"price"` // fixed price, or starting price for auctions
	Kind      ListingKind `json:"listing_type"`
	EndTime   *uint64     `json:"end_time,omitempty"`
	Active    bool        `json:"active"`
	CreatedAt uint64      `json:"created_at"`

	Outcome   ListingOutcome `json:"outcome,omitempty"`
	Buyer     *Principal     `json:"buyer,omitempty"`
	SalePrice uint64         `json:"sale_price,omitempty"`
	ClosedAt  *uint64        `json:"closed_at,omitempty"`
}

// IsAuction reports whether the listing is a timed auction.
func (l Listing) IsAuction() bool {
	return l.Kind == ListingAuction
}

// Ended reports whether the auction end height has been reached. Direct
// listings never end.
func (l Listing) Ended(height uint64) bool {
	return l.EndTime != nil && height >= *l.EndTime
}

// Bid is the single standing highest bid on an auction listing.
type Bid struct {
	ListingID uint64    `json:"listing_id"`
	Bidder    Principal `json:"bidder"`
	Amount    uint64    `json:"amount"`
	PlacedAt  uint64    `json:"placed_at"`
}

// Account holds a principal's settlement funds. Escrowed funds back standing
// auction bids.
type Account struct {
	Principal Principal `json:"principal"`
	Available uint64    `json:"available"`
	Escrowed  uint64    `json:"escrowed"`
}

// RevenueAccount accumulates platform fees.
type RevenueAccount struct {
	Accumulated    uint64 `json:"accumulated"`
	TotalCollected uint64 `json:"total_collected"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
}

// Supply tracks funds entering and leaving the settlement ledger.
type Supply struct {
	Deposited uint64 `json:"deposited"`
	Withdrawn uint64 `json:"withdrawn"`
}
