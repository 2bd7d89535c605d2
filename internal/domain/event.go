package domain

import "time"

// EventType names a committed ledger event.
type EventType string

const (
	EventListingCreated       EventType = "listing_created"
	EventListingCancelled     EventType = "listing_cancelled"
	EventListingSold          EventType = "listing_sold"
	EventAuctionClosed        EventType = "auction_closed"
	EventBidPlaced            EventType = "bid_placed"
	EventBidRefunded          EventType = "bid_refunded"
	EventRevenueWithdrawn     EventType = "revenue_withdrawn"
	EventAccountCredited      EventType = "account_credited"
	EventAccountWithdrawn     EventType = "account_withdrawn"
	EventVerifierAdded        EventType = "verifier_added"
	EventVerifierDeactivated  EventType = "verifier_deactivated"
	EventReputationUpdated    EventType = "reputation_updated"
	EventVerificationRecorded EventType = "verification_recorded"
	EventVerificationUpdated  EventType = "verification_updated"
	EventDisputeOpened        EventType = "dispute_opened"
	EventDisputeResolved      EventType = "dispute_resolved"
	EventAdminGranted         EventType = "admin_granted"
	EventAdminRevoked         EventType = "admin_revoked"
)

// LedgerEvent is emitted for every committed state change.
type LedgerEvent struct {
	Type      EventType         `json:"type"`
	TxID      string            `json:"tx_id"`
	Height    uint64            `json:"height"`
	Caller    Principal         `json:"caller"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
