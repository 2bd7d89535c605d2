package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// MarketplaceService is the part of the ledger the listing endpoints use.
type MarketplaceService interface {
	ListDirect(ctx context.Context, caller domain.Principal, tokenID, price uint64) (uint64, error)
	ListAuction(ctx context.Context, caller domain.Principal, tokenID, startingPrice, duration uint64) (uint64, error)
	CancelListing(ctx context.Context, caller domain.Principal, listingID uint64) error
	Buy(ctx context.Context, caller domain.Principal, listingID uint64) error
	PlaceBid(ctx context.Context, caller domain.Principal, listingID, amount uint64) error
	FinalizeAuction(ctx context.Context, caller domain.Principal, listingID uint64) error
	GetListing(ctx context.Context, listingID uint64) (domain.Listing, bool)
	GetListingCount(ctx context.Context) uint64
	GetHighestBid(ctx context.Context, listingID uint64) (domain.Bid, bool)
	IsAuctionEnded(ctx context.Context, listingID uint64) (bool, error)
	ActiveListings(ctx context.Context, kind domain.ListingKind, opts domain.ListOpts) []domain.Listing
}

// ListingHandler serves the marketplace endpoints.
type ListingHandler struct {
	market MarketplaceService
	logger *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(market MarketplaceService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{market: market, logger: logger}
}

type listDirectRequest struct {
	TokenID uint64 `json:"token_id"`
	Price   uint64 `json:"price"`
}

type listAuctionRequest struct {
	TokenID       uint64 `json:"token_id"`
	StartingPrice uint64 `json:"starting_price"`
	Duration      uint64 `json:"duration"`
}

type bidRequest struct {
	Amount uint64 `json:"amount"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type listingsResponse struct {
	Listings []domain.Listing `json:"listings"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListActive returns active listings, optionally filtered by kind.
// GET /v1/listings?kind=auction&limit=50&offset=0
func (h *ListingHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	kind := domain.ListingKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", domain.ListingDirect, domain.ListingAuction:
	default:
		writeError(w, http.StatusBadRequest, "kind must be direct or auction", domain.CodeInvalidListing)
		return
	}
	listings := h.market.ActiveListings(r.Context(), kind, opts)
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeOK(w, listingsResponse{Listings: listings, Limit: opts.Limit, Offset: opts.Offset})
}

// Count returns the number of listings ever created.
// GET /v1/listings/count
func (h *ListingHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.market.GetListingCount(r.Context()))
}

// Get returns a listing by id.
// GET /v1/listings/{id}
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", marketplace)
	if !ok {
		return
	}
	l, found := h.market.GetListing(r.Context(), id)
	if !found {
		writeError(w, http.StatusNotFound, "listing not found", domain.CodeNotFound)
		return
	}
	writeOK(w, l)
}

// HighestBid returns the standing bid of an auction, or null.
// GET /v1/listings/{id}/bid
func (h *ListingHandler) HighestBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", marketplace)
	if !ok {
		return
	}
	if b, found := h.market.GetHighestBid(r.Context(), id); found {
		writeOK(w, b)
		return
	}
	writeOK(w, nil)
}

// Ended reports whether an auction has reached its end height.
// GET /v1/listings/{id}/ended
func (h *ListingHandler) Ended(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", marketplace)
	if !ok {
		return
	}
	ended, err := h.market.IsAuctionEnded(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, ended)
}

// ListDirect creates a fixed-price listing for the caller's token.
// POST /v1/listings/direct
func (h *ListingHandler) ListDirect(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req listDirectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	id, err := h.market.ListDirect(r.Context(), p, req.TokenID, req.Price)
	if err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeCreated(w, idResponse{ID: id})
}

// ListAuction creates an auction for the caller's token.
// POST /v1/listings/auction
func (h *ListingHandler) ListAuction(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req listAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	id, err := h.market.ListAuction(r.Context(), p, req.TokenID, req.StartingPrice, req.Duration)
	if err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeCreated(w, idResponse{ID: id})
}

// Cancel withdraws the caller's listing.
// POST /v1/listings/{id}/cancel
func (h *ListingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.market.CancelListing)
}

// Buy purchases a direct listing.
// POST /v1/listings/{id}/buy
func (h *ListingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.market.Buy)
}

// Finalize settles an ended auction. Any signed caller may finalize.
// POST /v1/listings/{id}/finalize
func (h *ListingHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.market.FinalizeAuction)
}

// PlaceBid bids on an auction.
// POST /v1/listings/{id}/bids
func (h *ListingHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id", marketplace)
	if !ok {
		return
	}
	var req bidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.market.PlaceBid(r.Context(), p, id, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, true)
}

// act runs a listing operation that takes only the caller and the id.
func (h *ListingHandler) act(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.Principal, uint64) error) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id", marketplace)
	if !ok {
		return
	}
	if err := op(r.Context(), p, id); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, true)
}
