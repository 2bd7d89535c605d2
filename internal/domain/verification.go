package domain

// VerificationStatus is the attestation state of a verification record.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
	StatusDisputed VerificationStatus = "disputed"
)

// Submittable reports whether a verifier (or an admin resolving a dispute)
// may set this status. Disputed is only ever set by the dispute path.
func (s VerificationStatus) Submittable() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	default:
		return false
	}
}

// MaxReputation is the upper bound of a verifier reputation score.
const MaxReputation uint64 = 100

// Verifier is an admin-authorized attesting principal.
type Verifier struct {
	Principal         Principal `json:"principal"`
	Name              string    `json:"name"`
	CertificationBody string    `json:"certification_body"`
	AuthorizedDate    uint64    `json:"authorized_date"`
	Active            bool      `json:"active"`
}

// VerifierStats tallies a verifier's submissions.
type VerifierStats struct {
	TotalVerifications uint64 `json:"total_verifications"`
	VerifiedCount      uint64 `json:"verified_count"`
	RejectedCount      uint64 `json:"rejected_count"`
	ReputationScore    uint64 `json:"reputation_score"`
}

// VerificationRecord is a single attestation about a token.
type VerificationRecord struct {
	ID               uint64             `json:"id"`
	TokenID          uint64             `json:"token_id"`
	Verifier         Principal          `json:"verifier"`
	VerificationDate uint64             `json:"verification_date"`
	Status           VerificationStatus `json:"status"`
	Notes            string             `json:"notes"`
	EvidenceHash     string             `json:"evidence_hash"`
	ExpiryDate       *uint64            `json:"expiry_date,omitempty"`
}

// Dispute contests a verification record. It is keyed by the record id.
type Dispute struct {
	RecordID    uint64             `json:"record_id"`
	Disputer    Principal          `json:"disputer"`
	Reason      string             `json:"reason"`
	DisputeDate uint64             `json:"dispute_date"`
	Resolved    bool               `json:"resolved"`
	Resolution  *string            `json:"resolution,omitempty"`
	ResolvedAt  *uint64            `json:"resolved_at,omitempty"`
	FinalStatus VerificationStatus `json:"final_status,omitempty"`
}
